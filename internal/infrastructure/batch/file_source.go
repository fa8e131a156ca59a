// Package batch delivers raw loan tapes to the pipeline.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Partition directories under a period directory
const (
	NewDir         = "new"
	CarriedOverDir = "carried_over"
)

// ErrBatchNotFound is returned when no tapes were delivered for a tenant and period
var ErrBatchNotFound = errors.New("batch not found")

// FileSource reads tapes laid out as
//
//	<root>/<tenant>/<YYYY-MM-DD>/new/<format>*.csv
//	<root>/<tenant>/<YYYY-MM-DD>/carried_over/<format>*.csv
//
// where <format> is one of the source format names (for example
// origination_v2_east.csv). Files whose name matches no format are skipped.
type FileSource struct {
	root   string
	logger *zap.Logger
}

// NewFileSource creates a file batch source rooted at root
func NewFileSource(root string, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{root: root, logger: logger}
}

// Fetch implements loan.BatchSource
func (s *FileSource) Fetch(ctx context.Context, tenantID string, period time.Time) (*loan.RawBatch, error) {
	if tenantID == "" || strings.ContainsAny(tenantID, `/\`) || tenantID == "." || tenantID == ".." {
		return nil, fmt.Errorf("invalid tenant id %q", tenantID)
	}
	dir := filepath.Join(s.root, tenantID, shared.FormatDate(period))
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, dir)
		}
		return nil, fmt.Errorf("stat batch dir %s: %w", dir, err)
	}

	raw := &loan.RawBatch{TenantID: tenantID, Period: shared.DateOf(period)}
	for _, sub := range []struct {
		name        string
		carriedOver bool
	}{{NewDir, false}, {CarriedOverDir, true}} {
		parts, err := s.readPartitions(ctx, filepath.Join(dir, sub.name), sub.carriedOver)
		if err != nil {
			return nil, err
		}
		raw.Partitions = append(raw.Partitions, parts...)
	}

	if len(raw.Partitions) == 0 {
		return nil, fmt.Errorf("%w: no tapes under %s", ErrBatchNotFound, dir)
	}

	s.logger.Debug("Batch fetched",
		zap.String("tenant_id", tenantID),
		zap.String("period", shared.FormatDate(period)),
		zap.Int("partitions", len(raw.Partitions)),
	)
	return raw, nil
}

func (s *FileSource) readPartitions(ctx context.Context, dir string, carriedOver bool) ([]loan.RawPartition, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read batch dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var parts []loan.RawPartition
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		format, ok := FormatOf(name)
		if !ok {
			s.logger.Warn("Skipping tape with unknown source format", zap.String("file", filepath.Join(dir, name)))
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read tape %s: %w", name, err)
		}
		parts = append(parts, loan.RawPartition{
			Format:      format,
			CarriedOver: carriedOver,
			Name:        name,
			Data:        data,
		})
	}
	return parts, nil
}

// FormatOf derives the source format from a tape file name
func FormatOf(name string) (loan.SourceFormat, bool) {
	base := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
	var best loan.SourceFormat
	for _, f := range loan.AllSourceFormats() {
		prefix := string(f)
		if (base == prefix || strings.HasPrefix(base, prefix+"_") || strings.HasPrefix(base, prefix+"-")) &&
			len(prefix) > len(best) {
			best = f
		}
	}
	return best, best != ""
}

var _ loan.BatchSource = (*FileSource)(nil)
