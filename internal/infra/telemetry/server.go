package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/collectors/version"
	"go.uber.org/zap"
)

// RegisterBuildInfo exposes the binary's build metadata as a metric.
func RegisterBuildInfo(registerer prometheus.Registerer) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(version.NewCollector("relayd"))
}

type HTTPServerOptions struct {
	Addr     string
	Registry prometheus.Gatherer
	Healthz  func() error
}

// StartHTTPServer serves /metrics and /healthz until the context ends.
func StartHTTPServer(ctx context.Context, opts HTTPServerOptions, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:9464"
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", healthHandler(opts.Healthz))

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("observability server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("observability server failed to start: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("observability server shutdown error", zap.Error(err))
			return err
		}
		logger.Info("observability server stopped")
		return nil
	}
}

func healthHandler(check func() error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := map[string]string{"status": "ok"}
		status := http.StatusOK
		if check != nil {
			if err := check(); err != nil {
				report["status"] = "degraded"
				report["detail"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	})
}
