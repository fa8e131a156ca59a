package storage

import (
	"context"
	"fmt"

	"github.com/loanpurchase/backend/internal/application/export"
	infraconfig "github.com/loanpurchase/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// New builds the artifact store selected by configuration
func New(ctx context.Context, cfg *infraconfig.StorageConfig, logger *zap.Logger) (export.ArtifactStore, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocalArtifactStore(cfg.LocalDir)
	case "s3":
		store, err := NewS3ArtifactStore(cfg, WithLogger(logger.Named("s3")))
		if err != nil {
			return nil, err
		}
		if cfg.EnsureBucket {
			if err := store.EnsureBucket(ctx); err != nil {
				return nil, err
			}
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
