package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-audio-bridge/internal/config"
)

// Module provides telemetry aggregation and optional metrics exposition.
var Module = fx.Module("telemetry",
	fx.Provide(
		prometheus.NewRegistry,
		NewMetrics,
		New,
	),
	fx.Invoke(registerMetricsServer),
)

// registerMetricsServer starts a /metrics listener when configured.
func registerMetricsServer(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, registry *prometheus.Registry) {
	if cfg.Telemetry.ListenAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Telemetry.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Metrics server failed", zap.Error(err))
				}
			}()
			logger.Info("Metrics server listening", zap.String("addr", cfg.Telemetry.ListenAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
