package consumer

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-audio-bridge/internal/bridge"
	"github.com/Raikerian/go-audio-bridge/internal/config"
)

// Module provides the consumer side and ties its loop to the application
// lifecycle.
var Module = fx.Module("consumer",
	fx.Provide(
		NewLevelAnalyzer,
		newRunner,
	),
	fx.Invoke(registerLifecycle),
)

func newRunner(logger *zap.Logger, cfg *config.Config, analyzer Analyzer, b *bridge.Bridge) *Runner {
	return NewRunner(logger, cfg, analyzer, b.Out(), b.Control())
}

func registerLifecycle(lc fx.Lifecycle, r *Runner) {
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(done)
				r.Run(loopCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
