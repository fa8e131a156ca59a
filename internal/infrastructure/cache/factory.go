package cache

import (
	"fmt"
	"time"

	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// RunRegistryFactory creates run registries based on configuration
type RunRegistryFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// RunRegistryFactoryOption is a functional option for configuring the factory
type RunRegistryFactoryOption func(*RunRegistryFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) RunRegistryFactoryOption {
	return func(f *RunRegistryFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to
// the in-memory registry. Default is false: a fallback would let two
// processes run the same tenant concurrently.
func WithInMemoryFallback(allow bool) RunRegistryFactoryOption {
	return func(f *RunRegistryFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewRunRegistryFactory creates a new factory
func NewRunRegistryFactory(cfg config.RedisConfig, opts ...RunRegistryFactoryOption) *RunRegistryFactory {
	f := &RunRegistryFactory{
		redisConfig: cfg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create builds the registry named by backend ("memory" or "redis").
// Entries expire after ttl, normally the stale-run threshold.
func (f *RunRegistryFactory) Create(backend string, ttl time.Duration) (pipeline.RunRegistry, error) {
	switch backend {
	case "", "memory":
		f.logger.Info("using in-memory run registry")
		return NewInMemoryRunRegistry(ttl), nil
	case "redis":
		reg, err := NewRedisRunRegistry(f.redisConfig, ttl)
		if err == nil {
			f.logger.Info("using Redis run registry", zap.String("addr", f.redisConfig.Addr()))
			return reg, nil
		}
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("redis run registry unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory run registry. "+
			"Concurrent processes will not see each other's runs.",
			zap.Error(err),
		)
		return NewInMemoryRunRegistry(ttl), nil
	default:
		return nil, fmt.Errorf("unknown run registry backend: %s", backend)
	}
}
