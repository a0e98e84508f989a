package pool

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-audio-bridge/internal/config"
)

// Module provides the buffer pool.
var Module = fx.Module("pool",
	fx.Provide(newFromConfig),
)

func newFromConfig(logger *zap.Logger, cfg *config.Config) (*Pool, error) {
	return New(logger, Config{
		Size:           cfg.Pool.Size,
		BufferCapacity: cfg.Pool.BufferCapacity,
		ReclaimTimeout: cfg.Pool.ReclaimTimeout(),
	})
}
