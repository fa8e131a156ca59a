package refdata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/reference"
	"go.uber.org/zap"
)

// FileSource reads grid documents from every .yaml/.yml file in a directory.
// Files are re-read on each Fetch so a corrected grid is picked up by the
// next run without a restart.
type FileSource struct {
	dir    string
	logger *zap.Logger
}

// NewFileSource creates a YAML file source rooted at dir
func NewFileSource(dir string, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{dir: dir, logger: logger}
}

// Fetch implements reference.Source
func (s *FileSource) Fetch(ctx context.Context, kind reference.Kind, program loan.Program) ([]reference.Grid, error) {
	grids, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []reference.Grid
	for _, g := range grids {
		h := g.Meta()
		if h.Kind == kind && h.Program == program {
			out = append(out, g)
		}
	}
	s.logger.Debug("Reference grids fetched",
		zap.String("kind", string(kind)),
		zap.String("program", string(program)),
		zap.Int("versions", len(out)),
	)
	return out, nil
}

func (s *FileSource) readAll(ctx context.Context) ([]reference.Grid, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read reference dir %s: %w", s.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var grids []reference.Grid
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read reference file %s: %w", name, err)
		}
		docs, err := ParseDocuments(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for _, doc := range docs {
			g, err := doc.Grid()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			grids = append(grids, g)
		}
	}
	return grids, nil
}
