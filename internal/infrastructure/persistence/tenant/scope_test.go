package tenant

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/loanpurchase/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type runRow struct {
	ID       string
	TenantID string
}

func (runRow) TableName() string { return "pipeline_runs" }

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB, DriverName: "postgres"}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db, mock
}

func TestScope_FiltersByTenant(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT \* FROM "pipeline_runs" WHERE tenant_id = \$1`).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id"}).AddRow("r1", "acme"))

	var rows []runRow
	require.NoError(t, db.Scopes(Scope("acme")).Find(&rows).Error)
	assert.Len(t, rows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScope_EmptyTenantFails(t *testing.T) {
	db, mock := newMockDB(t)

	var rows []runRow
	err := db.Scopes(Scope("")).Find(&rows).Error
	assert.ErrorIs(t, err, ErrTenantIDRequired)
	assert.NoError(t, mock.ExpectationsWereMet(), "no statement may reach the database")
}

func TestFromContext(t *testing.T) {
	db, mock := newMockDB(t)

	ctx, _ := logger.WithRun(context.Background(), zap.NewNop(), "globex", "run-1")
	mock.ExpectQuery(`SELECT \* FROM "pipeline_runs" WHERE tenant_id = \$1`).
		WithArgs("globex").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id"}))

	var rows []runRow
	require.NoError(t, db.WithContext(ctx).Scopes(FromContext(ctx)).Find(&rows).Error)
	assert.NoError(t, mock.ExpectationsWereMet())

	var none []runRow
	err := db.Scopes(FromContext(context.Background())).Find(&none).Error
	assert.ErrorIs(t, err, ErrTenantIDRequired)
}
