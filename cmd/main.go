package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"admission-proxy/internal"
	"admission-proxy/internal/clock"
	"admission-proxy/internal/config"
	"admission-proxy/internal/filter"
	"admission-proxy/internal/forward"
	"admission-proxy/internal/handlers"
	_ "admission-proxy/internal/logger"
	"admission-proxy/internal/middlewares"
	"admission-proxy/internal/monitoring"
	"admission-proxy/internal/proxy"
	"admission-proxy/internal/ratelimit"
	"admission-proxy/internal/timeoutresolver"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("fatal panic in main",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			os.Exit(1)
		}
	}()

	if len(os.Args) < 2 {
		slog.Error("usage: admission-proxy <config.toml>")
		os.Exit(1)
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting admission-proxy",
		"listen_addr", cfg.ListenAddr,
		"upstream", cfg.Upstream.String(),
	)

	f, err := filter.Compile(cfg.BlockedPatterns)
	if err != nil {
		slog.Error("failed to compile blocked user-agent patterns", "error", err)
		os.Exit(1)
	}

	overrides := make([]timeoutresolver.Override, len(cfg.TimeoutOverrides))
	for i, o := range cfg.TimeoutOverrides {
		overrides[i] = timeoutresolver.Override{Path: o.Path, Timeout: o.Timeout}
	}
	resolver := timeoutresolver.New(overrides, cfg.DefaultTimeout)

	registry := ratelimit.New(ratelimit.Config{
		RPM:                cfg.RPM,
		Burst:              cfg.Burst,
		ViolationThreshold: cfg.ViolationThreshold,
		BanDuration:        cfg.BanDuration,
		CleanupInterval:    time.Minute,
		MaxEntries:         200_000,
	}, clock.Real{})
	defer registry.Close()

	fwd := forward.New(forward.Config{
		Upstream:    cfg.Upstream,
		MaxBodySize: cfg.MaxBodySize,
		Transport:   forward.DialTimeoutTransport(),
	})

	breaker := middlewares.NewCircuitBreaker(middlewares.DefaultCircuitBreakerConfig())

	promReg := prometheus.NewRegistry()
	provider := monitoring.NewPrometheusProvider(promReg)
	monitoring.RegisterProvider(provider)

	pipeline := proxy.New(registry, f, resolver, fwd, breaker, proxy.Config{
		MaxBodySize: cfg.MaxBodySize,
		Redirects: proxy.RedirectConfig{
			RateLimited:  cfg.ErrorRedirects.RateLimited,
			Banned:       cfg.ErrorRedirects.Banned,
			BodyTooLarge: cfg.ErrorRedirects.BodyTooLarge,
			Timeout:      cfg.ErrorRedirects.Timeout,
			BadGateway:   cfg.ErrorRedirects.BadGateway,
		},
		BotRedirectURL: cfg.BotRedirectURL,
	}, proxy.StandardMetrics{})

	healthHandler := handlers.NewHealthHandler()
	router := internal.NewRouter(pipeline, healthHandler)

	adminAddr := envOr("ADMIN_ADDR", ":9090")
	adminSrv := internal.NewAdminServer(internal.AdminConfig{
		Addr:           adminAddr,
		EnablePprof:    envOr("APP_ENV", "development") != "production",
		MetricsHandler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	}, healthHandler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		adminErr := adminSrv.Serve()
		return adminErr
	})
	g.Go(func() error {
		internal.Run(ctx, cfg.ListenAddr, router, nil)
		return nil
	})

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)

	sig := <-stopCh
	slog.Info("received shutdown signal", "signal", sig.String())
	router.SetUnavailable()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin server shutdown error", "error", err)
	}
	shutdownCancel()

	cancel()

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
