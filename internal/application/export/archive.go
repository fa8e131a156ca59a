package export

import (
	"context"
	"fmt"
	"path"

	"github.com/loanpurchase/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// ArtifactStore persists archived artifacts under a key
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Archiver writes a run's artifacts to a store
type Archiver struct {
	store ArtifactStore
}

// NewArchiver creates an Archiver
func NewArchiver(store ArtifactStore) *Archiver {
	return &Archiver{store: store}
}

// Archive puts every artifact under <tenant>/<period>/<run id>/<name> and
// returns the keys written. The manifest is written last so its presence
// marks a complete archive.
func (a *Archiver) Archive(ctx context.Context, meta RunMeta, artifacts []Artifact) ([]string, error) {
	log := logger.L(ctx)
	keys := make([]string, 0, len(artifacts))
	for _, art := range ordered(artifacts) {
		if err := ctx.Err(); err != nil {
			return keys, err
		}
		key := path.Join(meta.Prefix(), art.Name)
		if err := a.store.Put(ctx, key, art.Data, art.ContentType); err != nil {
			return keys, fmt.Errorf("archive %s: %w", art.Name, err)
		}
		log.Debug("Artifact archived", zap.String("key", key), zap.Int("bytes", len(art.Data)))
		keys = append(keys, key)
	}
	return keys, nil
}

func ordered(artifacts []Artifact) []Artifact {
	out := make([]Artifact, 0, len(artifacts))
	var manifest *Artifact
	for i := range artifacts {
		if artifacts[i].Name == RunManifest {
			manifest = &artifacts[i]
			continue
		}
		out = append(out, artifacts[i])
	}
	if manifest != nil {
		out = append(out, *manifest)
	}
	return out
}
