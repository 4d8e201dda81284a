package inventory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/inventory/store"
	"github.com/warp/stock-ledger/store/sqlstore"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type storeFactory func(t *testing.T) inventory.Store

// backends runs every ledger test against each Store implementation.
var backends = map[string]storeFactory{
	"memory": func(t *testing.T) inventory.Store {
		return store.NewMemory()
	},
	"sqlite": func(t *testing.T) inventory.Store {
		s, err := sqlstore.Open(context.Background(), sqlstore.DialectSQLite, ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	},
}

func eachBackend(t *testing.T, fn func(t *testing.T, newStore storeFactory)) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, factory)
		})
	}
}

// fakeClock is a settable clock for deterministic timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustCreate(t *testing.T, inv *inventory.Inventory, name string, qty int64, p string) inventory.Product {
	t.Helper()
	product, err := inv.Catalog.Create(context.Background(), inventory.NewProduct{
		Name:     name,
		Quantity: qty,
		Price:    price(p),
	})
	require.NoError(t, err)
	return product
}

// requireConsistent checks the ledger explains the catalog for every product.
func requireConsistent(t *testing.T, inv *inventory.Inventory) {
	t.Helper()
	ctx := context.Background()

	drifts, err := inv.Ledger.Verify(ctx)
	require.NoError(t, err)
	require.Empty(t, drifts)

	products, err := inv.Catalog.List(ctx)
	require.NoError(t, err)
	for _, p := range products {
		require.GreaterOrEqual(t, p.Quantity, int64(0))
		replayed, err := inv.Ledger.ReconstructQuantity(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, p.Quantity, replayed, "product %d", p.ID)
	}
}

type recordingListener struct {
	mu     sync.Mutex
	events []inventory.ChangeEvent
}

func (r *recordingListener) OnChange(_ context.Context, ev inventory.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingListener) types() []inventory.ChangeType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]inventory.ChangeType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
