package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

func TestRecordRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequest("GET", "/messages", 200, 10*time.Millisecond)
	c.RecordRequest("GET", "/messages", 200, 20*time.Millisecond)
	c.RecordRequest("POST", "/messages/new", 400, time.Millisecond)

	mf := findFamily(t, reg, "dmbox_http_requests_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label sets, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		labels := map[string]string{}
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["route"] == "/messages" && m.GetCounter().GetValue() != 2 {
			t.Errorf("requests{route=/messages} = %v, want 2", m.GetCounter().GetValue())
		}
	}

	hist := findFamily(t, reg, "dmbox_http_request_duration_seconds")
	var count uint64
	for _, m := range hist.GetMetric() {
		count += m.GetHistogram().GetSampleCount()
	}
	if count != 3 {
		t.Errorf("histogram sample count = %d, want 3", count)
	}
}

func TestRecordRateLimited(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRateLimited("user")

	mf := findFamily(t, reg, "dmbox_http_rate_limited_total")
	if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("rate_limited_total = %v, want 1", v)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordRequest("GET", "/healthz", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "dmbox_http_requests_total") {
		t.Error("expected request counter in exposition")
	}
}
