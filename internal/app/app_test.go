package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rbaliyan/dmbox/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args     []string
		wantCmd  Command
		wantRest []string
	}{
		{nil, CommandServe, nil},
		{[]string{"serve"}, CommandServe, []string{}},
		{[]string{"migrate"}, CommandMigrate, []string{}},
		{[]string{"migrate", "down"}, CommandMigrate, []string{"down"}},
		{[]string{"healthcheck"}, CommandHealthcheck, []string{}},
		{[]string{"bogus"}, CommandServe, []string{"bogus"}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			cmd, rest := ParseCommand(tt.args)
			if cmd != tt.wantCmd {
				t.Errorf("cmd = %q, want %q", cmd, tt.wantCmd)
			}
			if strings.Join(rest, " ") != strings.Join(tt.wantRest, " ") {
				t.Errorf("rest = %v, want %v", rest, tt.wantRest)
			}
		})
	}
}

func TestHealthURL(t *testing.T) {
	tests := map[string]string{
		":8080":          "http://localhost:8080/healthz",
		"0.0.0.0:9000":   "http://localhost:9000/healthz",
		"127.0.0.1:8081": "http://127.0.0.1:8081/healthz",
		"8080":           "http://localhost:8080/healthz",
	}
	for addr, want := range tests {
		if got := healthURL(addr); got != want {
			t.Errorf("healthURL(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestRunHealthcheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	if err := runHealthcheck(context.Background(), healthy.URL+"/healthz"); err != nil {
		t.Errorf("healthy: %v", err)
	}
	if err := runHealthcheck(context.Background(), unhealthy.URL+"/healthz"); err == nil {
		t.Error("unhealthy: expected error")
	}

	t.Run("via Run", func(t *testing.T) {
		t.Setenv("DMBOX_HTTP_ADDR", strings.TrimPrefix(healthy.URL, "http://"))
		if err := Run(context.Background(), &bytes.Buffer{}, []string{"healthcheck"}); err != nil {
			t.Fatalf("Run(healthcheck): %v", err)
		}
	})
}

func TestRun_MissingSecret(t *testing.T) {
	t.Setenv("DMBOX_STORE", "memory")
	t.Setenv("DMBOX_JWT_SECRET", "")

	err := Run(context.Background(), &bytes.Buffer{}, []string{"serve"})
	if err == nil {
		t.Fatal("expected config error")
	}
}

func TestRun_MigrateNeedsPostgres(t *testing.T) {
	t.Setenv("DMBOX_STORE", "memory")
	t.Setenv("DMBOX_JWT_SECRET", testSecret)

	err := Run(context.Background(), &bytes.Buffer{}, []string{"migrate"})
	if err == nil || !strings.Contains(err.Error(), "no migrations") {
		t.Fatalf("err = %v, want no migrations error", err)
	}
}

func TestRun_ServeUntilCancelled(t *testing.T) {
	t.Setenv("DMBOX_STORE", "memory")
	t.Setenv("DMBOX_JWT_SECRET", testSecret)
	t.Setenv("DMBOX_HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("DMBOX_SHUTDOWN_TIMEOUT", "5s")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var logs bytes.Buffer
	if err := Run(ctx, &logs, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(logs.String(), "API server stopped") {
		t.Errorf("logs missing shutdown line:\n%s", logs.String())
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	return &config.Config{
		Store:              config.StoreMemory,
		JWTSecret:          testSecret,
		TokenTTL:           time.Hour,
		BcryptCost:         4,
		MaxRecipients:      10,
		MaxTextLength:      1000,
		RateLimitPerMinute: 6000,
		LogLevel:           "error",
		LogFormat:          "text",
		ShutdownTimeout:    5 * time.Second,
	}
}

func TestServe(t *testing.T) {
	cfg := memoryConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	if err := runHealthcheck(context.Background(), base+"/healthz"); err != nil {
		t.Fatalf("healthcheck: %v", err)
	}

	body := strings.NewReader(`{"username":"alice","password":"correct horse"}`)
	resp, err := http.Post(base+"/users/register", "application/json", body)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	var sess struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/messages", nil)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	listResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Errorf("list status = %d", listResp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
