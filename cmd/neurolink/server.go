package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/neurolink/internal/health"
	"github.com/MrWong99/neurolink/internal/observe"
)

const shutdownTimeout = 5 * time.Second

// telemetry bundles the OTel providers and the instruments created on them.
type telemetry struct {
	metrics  *observe.Metrics
	handler  http.Handler
	shutdown func(context.Context) error
}

func initTelemetry(ctx context.Context) (*telemetry, error) {
	t, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version()})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return &telemetry{metrics: m, handler: t.MetricsHandler, shutdown: t.Shutdown}, nil
}

func (t *telemetry) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := t.shutdown(ctx); err != nil {
		slog.Warn("telemetry shutdown", "err", err)
	}
}

// serveHTTP serves /healthz, /readyz and /metrics on addr until ctx is done.
func serveHTTP(ctx context.Context, addr string, t *telemetry, checkers ...health.Checker) error {
	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", t.handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(t.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
