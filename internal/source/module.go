package source

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-audio-bridge/internal/bridge"
	"github.com/Raikerian/go-audio-bridge/internal/config"
	"github.com/Raikerian/go-audio-bridge/internal/protocol"
)

// Module provides the synthetic audio source and starts processing once
// the application is up.
var Module = fx.Module("source",
	fx.Provide(newSine),
	fx.Invoke(registerLifecycle),
)

func newSine(logger *zap.Logger, cfg *config.Config, b *bridge.Bridge) *Sine {
	return NewSine(logger, cfg, b.Quanta())
}

func registerLifecycle(lc fx.Lifecycle, s *Sine, b *bridge.Bridge) {
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			b.Control() <- protocol.NewEnvelope(protocol.StartProcessing{})
			go func() {
				defer close(done)
				s.Run(loopCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			// Ask the producer to flush and go idle before teardown.
			select {
			case b.Control() <- protocol.NewEnvelope(protocol.StopProcessing{}):
			default:
			}
			return nil
		},
	})
}
