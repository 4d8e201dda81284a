package api

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/inventory/store"
)

func TestAuditor_RunOnce_LogsDriftAndLowStock(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	inv := inventory.New(store.NewMemory())
	ctx := context.Background()

	p, err := inv.Catalog.Create(ctx, inventory.NewProduct{Name: "Caneta", Quantity: 3, Price: decimal.RequireFromString("1.00")})
	require.NoError(t, err)
	_, err = inv.Store().ApplyDelta(ctx, p.ID, 1, time.Now())
	require.NoError(t, err)

	a := NewAuditor(inv, zap.New(core), 4)
	report, err := a.RunOnce(ctx)
	require.NoError(t, err)

	require.Len(t, report.Drifts, 1)
	assert.Equal(t, int64(4), report.Drifts[0].Cached)
	assert.Equal(t, int64(3), report.Drifts[0].Replayed)
	require.Len(t, report.LowStock, 1)

	assert.Equal(t, 1, logs.FilterMessage("ledger drift detected").Len())
	assert.Equal(t, 1, logs.FilterMessage("products at or below low-stock threshold").Len())

	last, ok := a.Last()
	require.True(t, ok)
	assert.Equal(t, report.CheckedAt, last.CheckedAt)
}

func TestAuditor_StartRunsImmediately(t *testing.T) {
	inv := inventory.New(store.NewMemory())
	a := NewAuditor(inv, zap.NewNop(), 4)
	a.Interval = time.Hour

	_, ok := a.Last()
	require.False(t, ok)

	a.Start()
	a.Start() // second start is a no-op
	defer a.Stop()

	assert.Eventually(t, func() bool {
		_, ok := a.Last()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAuditor_Disabled(t *testing.T) {
	a := NewAuditor(inventory.New(store.NewMemory()), zap.NewNop(), 4)
	a.Interval = 0

	a.Start()
	a.Stop()

	_, ok := a.Last()
	assert.False(t, ok)
}
