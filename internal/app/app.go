// Package app provides the main application structure and lifecycle management.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-audio-bridge/internal/config"
)

// Application represents the main application with its lifecycle.
type Application struct {
	app *fx.App
}

// New creates a new Application with the provided modules and options.
func New(modules ...fx.Option) *Application {
	options := append(modules, fx.Invoke(logStartup))

	return &Application{
		app: fx.New(options...),
	}
}

// Run starts the application and blocks until it's stopped.
func (a *Application) Run() {
	a.app.Run()
}

// Stop gracefully stops the application.
func (a *Application) Stop(ctx context.Context) error {
	return a.app.Stop(ctx)
}

// logStartup announces the effective configuration once the graph is built.
func logStartup(logger *zap.Logger, cfg *config.Config) {
	logger.Info("Audio bridge configured",
		zap.Int("sample_rate", cfg.Audio.SampleRate),
		zap.Int("quantum_size", cfg.Audio.QuantumSize),
		zap.Int("pool_size", cfg.Pool.Size),
		zap.Int("buffer_capacity", cfg.Pool.BufferCapacity),
		zap.Int("batch_size", cfg.Batch.Size),
		zap.Duration("flush_timeout", cfg.Batch.FlushTimeout()),
		zap.Duration("reclaim_timeout", cfg.Pool.ReclaimTimeout()))
}
