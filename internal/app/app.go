// Package app wires dmboxd together and runs its subcommands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rbaliyan/dmbox"
	"github.com/rbaliyan/dmbox/account"
	"github.com/rbaliyan/dmbox/auth"
	"github.com/rbaliyan/dmbox/internal/config"
	"github.com/rbaliyan/dmbox/internal/handler"
	"github.com/rbaliyan/dmbox/internal/logger"
	"github.com/rbaliyan/dmbox/internal/metrics"
	"github.com/rbaliyan/dmbox/internal/middleware"
	"github.com/rbaliyan/dmbox/resolver"
	"github.com/rbaliyan/dmbox/store/postgres"
)

// Server timeouts.
const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 15 * time.Second
	idleTimeout       = 60 * time.Second
)

// Run parses args (os.Args[1:]) and runs the selected subcommand until
// ctx is cancelled or the command finishes. Logs go to w.
func Run(ctx context.Context, w io.Writer, args []string) error {
	cmd, rest := ParseCommand(args)

	// healthcheck runs inside minimal containers and skips full config.
	if cmd == CommandHealthcheck {
		addr := os.Getenv(config.Prefix + "_HTTP_ADDR")
		if addr == "" {
			addr = ":8080"
		}
		return runHealthcheck(ctx, healthURL(addr))
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	log := logger.SetupDefault(w, cfg.LogLevel, cfg.LogFormat)
	log.Info("starting dmboxd", "command", string(cmd), "store", cfg.Store)

	switch cmd {
	case CommandMigrate:
		return runMigrate(ctx, cfg, rest, log)
	default:
		return runServe(ctx, cfg, log)
	}
}

// app is a fully wired dmboxd instance.
type app struct {
	handler http.Handler
	cfg     *config.Config
	logger  *slog.Logger
	svc     dmbox.Service
	limiter *middleware.RateLimiter
	backend *backend
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}

	var directory dmbox.Directory = b.store
	accountOpts := []account.Option{
		account.WithLogger(log),
		account.WithHasher(auth.NewHasher(cfg.BcryptCost)),
	}
	svcOpts := []dmbox.Option{
		dmbox.WithStore(b.store),
		dmbox.WithLogger(log),
		dmbox.WithMaxRecipients(cfg.MaxRecipients),
		dmbox.WithMaxTextLength(cfg.MaxTextLength),
		dmbox.WithShutdownTimeout(cfg.ShutdownTimeout),
		dmbox.WithOTel(cfg.OTelEnabled),
	}
	if b.redis != nil {
		cached := resolver.NewCached(b.store, b.redis, resolver.WithLogger(log))
		directory = cached
		accountOpts = append(accountOpts, account.WithInvalidator(cached))
		svcOpts = append(svcOpts, dmbox.WithRedisClient(b.redis))
	}
	svcOpts = append(svcOpts, dmbox.WithDirectory(directory))

	svc, err := dmbox.NewService(svcOpts...)
	if err != nil {
		_ = b.close(ctx)
		return nil, fmt.Errorf("create service: %w", err)
	}
	if err := svc.Connect(ctx); err != nil {
		_ = b.close(ctx)
		return nil, fmt.Errorf("connect service: %w", err)
	}

	// From here on svc owns the store connection.
	fail := func(err error) (*app, error) {
		_ = svc.Close(ctx)
		_ = b.close(ctx)
		return nil, err
	}

	tokens, err := auth.NewTokens([]byte(cfg.JWTSecret), auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		return fail(fmt.Errorf("create tokens: %w", err))
	}
	accounts, err := account.New(b.store, tokens, accountOpts...)
	if err != nil {
		return fail(fmt.Errorf("create accounts: %w", err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	limiterCfg := middleware.DefaultRateLimiterConfig()
	limiterCfg.PerMinute = cfg.RateLimitPerMinute
	limiterCfg.Burst = cfg.RateLimitPerMinute
	limiter := middleware.NewRateLimiter(limiterCfg, log, collector)

	h := handler.New(svc, accounts, b.ping, log)
	router := handler.NewRouter(handler.RouterConfig{
		Handler:  h,
		Tokens:   tokens,
		Limiter:  limiter,
		Metrics:  collector,
		Gatherer: reg,
		Logger:   log,
	})

	return &app{
		handler: router,
		cfg:     cfg,
		logger:  log,
		svc:     svc,
		limiter: limiter,
		backend: b,
	}, nil
}

// close releases everything newApp acquired, in reverse order.
func (a *app) close(ctx context.Context) error {
	a.limiter.Stop()
	var errs []error
	if err := a.svc.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close service: %w", err))
	}
	if err := a.backend.close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}
	return errors.Join(errs...)
}

func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = a.close(context.Background())
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	return a.serve(ctx, ln)
}

// serve runs the HTTP server on ln until ctx is done, then shuts down.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(a.logger.Handler(), slog.LevelError),
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("API server starting", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("serve: %w", err)
	}

	a.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", "error", err)
	}
	if err := a.close(shutdownCtx); err != nil {
		a.logger.Error("close error", "error", err)
		runErr = errors.Join(runErr, err)
	}
	a.logger.Info("API server stopped")
	return runErr
}

// runMigrate applies migrations, or reverts them with "migrate down".
func runMigrate(ctx context.Context, cfg *config.Config, args []string, log *slog.Logger) error {
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("migrate: store %q has no migrations", cfg.Store)
	}
	down := len(args) > 0 && args[0] == "down"

	_, db, err := postgres.Open(cfg.PostgresDSN, postgres.WithLogger(log))
	if err != nil {
		return err
	}
	defer db.Close()

	if down {
		err = postgres.MigrateDown(ctx, db.DB)
	} else {
		err = postgres.MigrateUp(ctx, db.DB)
	}
	if err != nil {
		return err
	}
	log.Info("migrations complete", "down", down)
	return nil
}

// healthURL turns a listen address into a local /healthz URL.
func healthURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = "", addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/healthz"
}

func runHealthcheck(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck: unexpected status %d", resp.StatusCode)
	}
	return nil
}
