package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMockDB(t *testing.T) {
	mockDB := NewMockDB(t)
	defer mockDB.Close()

	assert.NotNil(t, mockDB.DB)
	assert.NotNil(t, mockDB.Mock)
	assert.NotNil(t, mockDB.SqlDB)
	mockDB.ExpectationsWereMet(t)
}

func TestNewTestUUID(t *testing.T) {
	assert.Equal(t, NewTestUUID("run-1"), NewTestUUID("run-1"))
	assert.NotEqual(t, NewTestUUID("run-1"), NewTestUUID("run-2"))
}

func TestContextWithTimeout(t *testing.T) {
	ctx := ContextWithTimeout(t, time.Minute)
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
	assert.NoError(t, ctx.Err())
	assert.NotEqual(t, context.Background(), ctx)
}

func TestRequireEventually(t *testing.T) {
	calls := 0
	RequireEventually(t, func() bool {
		calls++
		return calls >= 3
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestReferenceSet(t *testing.T) {
	set := ReferenceSet(t)
	require.NotNil(t, set)
	assert.Len(t, ReferenceGrids(t), 12)
}

func TestNewRecord(t *testing.T) {
	r := NewRecord("L-1", Secondary(), WithBalance(25000), WithScore(640), CarriedOver())

	assert.Equal(t, "L-1", r.SellerLoanNumber)
	assert.Equal(t, loan.ProgramSecondary, r.Program)
	assert.Equal(t, "25000", r.OriginalBalance.String())
	assert.Equal(t, 640, r.CreditScore)
	assert.True(t, r.CarriedOver)

	n := NewRecord("L-2", Notes())
	assert.Equal(t, loan.ProgramNotes, n.Program)
	assert.Equal(t, loan.ProgramPrimary, n.OriginProgram)
	assert.True(t, n.Restructured)
}

func TestMixedTape(t *testing.T) {
	lines := strings.Split(strings.TrimSpace(string(MixedTape())), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, V2TapeHeader, lines[0])

	header := strings.Split(lines[0], ",")
	for _, row := range lines[1:] {
		assert.Len(t, strings.Split(row, ","), len(header))
	}
}
