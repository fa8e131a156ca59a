// Package tenant scopes GORM queries to one tenant so a repository can
// never read or change another tenant's rows.
//
// Usage:
//
//	db.WithContext(ctx).Scopes(tenant.Scope(tenantID)).Find(&runs)
//	db.WithContext(ctx).Scopes(tenant.FromContext(ctx)).Find(&runs)
package tenant

import (
	"context"
	"errors"

	"github.com/loanpurchase/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

// Column is the tenant key column shared by every tenant-owned table
const Column = "tenant_id"

// ErrTenantIDRequired is returned when a scoped query has no tenant
var ErrTenantIDRequired = errors.New("tenant_id is required")

// Scope filters by tenant. An empty tenant fails the statement instead of
// silently matching every tenant.
func Scope(tenantID string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == "" {
			_ = db.AddError(ErrTenantIDRequired)
			return db
		}
		return db.Where(Column+" = ?", tenantID)
	}
}

// FromContext is Scope with the tenant carried by a run-scoped context
func FromContext(ctx context.Context) func(db *gorm.DB) *gorm.DB {
	return Scope(logger.GetTenantID(ctx))
}
