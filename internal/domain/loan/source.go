package loan

import (
	"context"
	"time"
)

// RawPartition is one tape as delivered by the batch-record source
type RawPartition struct {
	Format      SourceFormat
	CarriedOver bool
	Name        string
	Data        []byte
}

// RawBatch holds every tape delivered for a tenant and period
type RawBatch struct {
	TenantID   string
	Period     time.Time
	Partitions []RawPartition
}

// BatchSource returns the raw records for a tenant and period, partitioned by
// source format. Implementations own their own retry semantics.
type BatchSource interface {
	Fetch(ctx context.Context, tenantID string, period time.Time) (*RawBatch, error)
}
