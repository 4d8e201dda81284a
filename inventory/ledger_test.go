package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/inventory"
)

func TestLedger_CadernoScenario(t *testing.T) {
	eachBackend(t, func(t *testing.T, newStore storeFactory) {
		// GIVEN: "Caderno" created with 10 units
		inv := inventory.New(newStore(t))
		ctx := context.Background()
		p := mustCreate(t, inv, "Caderno", 10, "5.00")

		// WHEN: entry 5
		entry, err := inv.Ledger.RecordEntry(ctx, p.ID, 5)
		require.NoError(t, err)
		assert.Equal(t, inventory.KindEntry, entry.Kind)
		assert.Equal(t, int64(15), entry.Balance)

		// WHEN: exit 20 (more than available)
		_, err = inv.Ledger.RecordExit(ctx, p.ID, 20)

		// THEN: refused, nothing changed
		var short *inventory.InsufficientStockError
		require.ErrorAs(t, err, &short)
		assert.Equal(t, int64(15), short.Current)
		assert.Equal(t, int64(-20), short.Delta)
		assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

		got, err := inv.Catalog.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(15), got.Quantity)

		// WHEN: exit the whole stock
		exit, err := inv.Ledger.RecordExit(ctx, p.ID, 15)
		require.NoError(t, err)
		assert.Equal(t, int64(0), exit.Balance)
		assert.Equal(t, int64(-15), exit.Delta())

		history, err := inv.Ledger.ProductHistory(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, history, 2, "the refused exit leaves no trace")
		assert.Equal(t, entry.ID, history[0].ID)
		assert.Equal(t, exit.ID, history[1].ID)

		total, err := inv.Dashboard.TotalInventoryValue(ctx)
		require.NoError(t, err)
		assert.True(t, total.IsZero())
		requireConsistent(t, inv)
	})
}

func TestLedger_Record_Validation(t *testing.T) {
	eachBackend(t, func(t *testing.T, newStore storeFactory) {
		inv := inventory.New(newStore(t))
		ctx := context.Background()
		p := mustCreate(t, inv, "Caneta", 3, "1.00")

		tests := []struct {
			name string
			m    inventory.Movement
		}{
			{"zero quantity", inventory.Movement{ProductID: p.ID, Kind: inventory.KindEntry, Quantity: 0}},
			{"negative quantity", inventory.Movement{ProductID: p.ID, Kind: inventory.KindExit, Quantity: -2}},
			{"unknown kind", inventory.Movement{ProductID: p.ID, Kind: "adjust", Quantity: 1}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := inv.Ledger.Record(ctx, tt.m)
				assert.ErrorIs(t, err, inventory.ErrValidation)
			})
		}

		history, err := inv.Ledger.History(ctx)
		require.NoError(t, err)
		assert.Empty(t, history)
	})
}

func TestLedger_Record_StockCeiling(t *testing.T) {
	eachBackend(t, func(t *testing.T, newStore storeFactory) {
		// GIVEN: a product holding 1 unit
		inv := inventory.New(newStore(t))
		ctx := context.Background()
		p := mustCreate(t, inv, "Caneta", 1, "1.00")

		tests := []struct {
			name     string
			kind     inventory.Kind
			quantity int64
		}{
			{"entry of MaxInt64", inventory.KindEntry, math.MaxInt64},
			{"exit of MaxInt64", inventory.KindExit, math.MaxInt64},
			{"entry over the ceiling", inventory.KindEntry, inventory.MaxQuantity + 1},
			{"entry reaching past the ceiling", inventory.KindEntry, inventory.MaxQuantity},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				// WHEN: the movement would overflow or exceed the ceiling
				_, err := inv.Ledger.Record(ctx, inventory.Movement{ProductID: p.ID, Kind: tt.kind, Quantity: tt.quantity})

				// THEN: a validation error on quantity, nothing recorded
				var vErr *inventory.ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, "quantity", vErr.Field)
				assert.False(t, errors.Is(err, inventory.ErrInsufficientStock))

				got, err := inv.Catalog.Get(ctx, p.ID)
				require.NoError(t, err)
				assert.Equal(t, int64(1), got.Quantity)
			})
		}

		history, err := inv.Ledger.History(ctx)
		require.NoError(t, err)
		assert.Empty(t, history)

		// the ceiling itself is reachable
		tx, err := inv.Ledger.RecordEntry(ctx, p.ID, inventory.MaxQuantity-1)
		require.NoError(t, err)
		assert.Equal(t, inventory.MaxQuantity, tx.Balance)
		requireConsistent(t, inv)
	})
}

func TestLedger_Record_UnknownProduct(t *testing.T) {
	eachBackend(t, func(t *testing.T, newStore storeFactory) {
		inv := inventory.New(newStore(t))

		_, err := inv.Ledger.RecordEntry(context.Background(), 77, 1)
		assert.ErrorIs(t, err, inventory.ErrNotFound)

		_, err = inv.Ledger.ProductHistory(context.Background(), 77)
		assert.ErrorIs(t, err, inventory.ErrNotFound)

		_, err = inv.Ledger.ReconstructQuantity(context.Background(), 77)
		assert.ErrorIs(t, err, inventory.ErrNotFound)
	})
}

func TestLedger_IdempotencyKey(t *testing.T) {
	eachBackend(t, func(t *testing.T, newStore storeFactory) {
		inv := inventory.New(newStore(t))
		ctx := context.Background()
		p := mustCreate(t, inv, "Caneta", 3, "1.00")

		m := inventory.Movement{
			ProductID:      p.ID,
			Kind:           inventory.KindEntry,
			Quantity:       2,
			Reason:         "supplier delivery",
			IdempotencyKey: "delivery-0042",
		}
		first, err := inv.Ledger.Record(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, "supplier delivery", first.Reason)
		assert.Equal(t, "delivery-0042", first.IdempotencyKey)

		_, err = inv.Ledger.Record(ctx, m)
		var conflict *inventory.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.ErrorIs(t, err, inventory.ErrDuplicateIdempotencyKey)
		assert.ErrorIs(t, err, inventory.ErrConflict)

		got, err := inv.Catalog.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Quantity, "the replay must not move stock twice")

		history, err := inv.Ledger.History(ctx)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "delivery-0042", history[0].IdempotencyKey)
	})
}

func TestLedger_ConcurrentExits_OnlyOneWins(t *testing.T) {
	eachBackend(t, func(t *testing.T, newStore storeFactory) {
		// GIVEN: one unit in stock
		// WHEN: many exits of 1 race
		// THEN: exactly one succeeds, the rest get InsufficientStockError
		inv := inventory.New(newStore(t))
		ctx := context.Background()
		p := mustCreate(t, inv, "Último caderno", 1, "5.00")

		const workers = 20
		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			refused   atomic.Int32
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := inv.Ledger.RecordExit(ctx, p.ID, 1)
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.Is(err, inventory.ErrInsufficientStock):
					refused.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), succeeded.Load())
		assert.Equal(t, int32(workers-1), refused.Load())

		got, err := inv.Catalog.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.Quantity)
		requireConsistent(t, inv)
	})
}

func TestLedger_ConcurrentEntries_NoLostUpdates(t *testing.T) {
	eachBackend(t, func(t *testing.T, newStore storeFactory) {
		inv := inventory.New(newStore(t))
		ctx := context.Background()
		p := mustCreate(t, inv, "Lápis", 0, "0.90")

		const (
			workers = 25
			each    = 3
		)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := inv.Ledger.RecordEntry(ctx, p.ID, each)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := inv.Catalog.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(workers*each), got.Quantity)

		history, err := inv.Ledger.ProductHistory(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, history, workers)
		for i, tx := range history {
			assert.Equal(t, int64((i+1)*each), tx.Balance, "balances follow insertion order")
		}
		requireConsistent(t, inv)
	})
}

func TestLedger_MixedConcurrentMovements_StayConsistent(t *testing.T) {
	eachBackend(t, func(t *testing.T, newStore storeFactory) {
		inv := inventory.New(newStore(t))
		ctx := context.Background()
		a := mustCreate(t, inv, "Caneta", 10, "1.50")
		b := mustCreate(t, inv, "Borracha", 2, "0.75")

		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := a.ID
				if i%2 == 1 {
					id = b.ID
				}
				var err error
				if i%3 == 0 {
					_, err = inv.Ledger.RecordEntry(ctx, id, int64(i%4+1))
				} else {
					_, err = inv.Ledger.RecordExit(ctx, id, int64(i%5+1))
				}
				if err != nil && !errors.Is(err, inventory.ErrInsufficientStock) {
					t.Errorf("movement %d: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		requireConsistent(t, inv)
	})
}

func TestLedger_History_InsertionOrderAcrossProducts(t *testing.T) {
	eachBackend(t, func(t *testing.T, newStore storeFactory) {
		inv := inventory.New(newStore(t))
		ctx := context.Background()
		a := mustCreate(t, inv, "Caneta", 5, "1.00")
		b := mustCreate(t, inv, "Lápis", 5, "1.00")

		var want []inventory.TransactionID
		for i, id := range []inventory.ProductID{a.ID, b.ID, a.ID, b.ID} {
			tx, err := inv.Ledger.RecordEntry(ctx, id, int64(i+1))
			require.NoError(t, err)
			want = append(want, tx.ID)
		}

		history, err := inv.Ledger.History(ctx)
		require.NoError(t, err)
		got := make([]inventory.TransactionID, len(history))
		for i, tx := range history {
			got[i] = tx.ID
		}
		assert.Equal(t, want, got)

		onlyB, err := inv.Ledger.ProductHistory(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, onlyB, 2)
		assert.Equal(t, int64(7), onlyB[0].Balance)
		assert.Equal(t, int64(11), onlyB[1].Balance)
	})
}

func TestLedger_ReconstructQuantity_MatchesCatalog(t *testing.T) {
	eachBackend(t, func(t *testing.T, newStore storeFactory) {
		inv := inventory.New(newStore(t))
		ctx := context.Background()
		p := mustCreate(t, inv, "Régua", 7, "3.00")

		moves := []inventory.Movement{
			{ProductID: p.ID, Kind: inventory.KindExit, Quantity: 2},
			{ProductID: p.ID, Kind: inventory.KindEntry, Quantity: 10},
			{ProductID: p.ID, Kind: inventory.KindExit, Quantity: 15},
			// compensating movement for a mistaken exit
			{ProductID: p.ID, Kind: inventory.KindEntry, Quantity: 1, Reason: "correction"},
		}
		for _, m := range moves {
			_, err := inv.Ledger.Record(ctx, m)
			require.NoError(t, err)
		}

		replayed, err := inv.Ledger.ReconstructQuantity(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), replayed)

		got, err := inv.Catalog.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, replayed, got.Quantity)
		assert.Equal(t, int64(7), got.InitialQuantity)
	})
}

// driftingStore lets a test corrupt the cached quantity behind the ledger's back.
type driftingStore struct {
	inventory.Store
	bump map[inventory.ProductID]int64
}

func (d *driftingStore) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	products, err := d.Store.ListProducts(ctx)
	for i := range products {
		products[i].Quantity += d.bump[products[i].ID]
	}
	return products, err
}

func (d *driftingStore) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	return d.Store.WithTx(ctx, func(s inventory.Store) error {
		return fn(&driftingStore{Store: s, bump: d.bump})
	})
}

func TestLedger_Verify_ReportsDrift(t *testing.T) {
	base := backends["memory"](t)
	drifting := &driftingStore{Store: base, bump: map[inventory.ProductID]int64{}}
	inv := inventory.New(drifting)
	ctx := context.Background()

	ok := mustCreate(t, inv, "Caneta", 4, "1.00")
	bad := mustCreate(t, inv, "Lápis", 4, "1.00")
	_, err := inv.Ledger.RecordExit(ctx, bad.ID, 1)
	require.NoError(t, err)

	drifts, err := inv.Ledger.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	drifting.bump[bad.ID] = 2
	drifts, err = inv.Ledger.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1, fmt.Sprintf("only %d should drift, not %d", bad.ID, ok.ID))
	assert.Equal(t, bad.ID, drifts[0].ProductID)
	assert.Equal(t, int64(5), drifts[0].Cached)
	assert.Equal(t, int64(3), drifts[0].Replayed)
	assert.Nil(t, drifts[0].BrokenAt, "recorded balances still replay cleanly")
}

func TestLedger_ListenerFailureDoesNotUndoMovement(t *testing.T) {
	failing := inventory.ListenerFunc(func(context.Context, inventory.ChangeEvent) error {
		return errors.New("broker down")
	})
	inv := inventory.New(backends["memory"](t), inventory.WithListener(failing))
	ctx := context.Background()
	p := mustCreate(t, inv, "Caneta", 1, "1.00")

	tx, err := inv.Ledger.RecordEntry(ctx, p.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), tx.Balance)

	got, err := inv.Catalog.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Quantity)
}

func TestLedger_ListenersOutliveCanceledCaller(t *testing.T) {
	// GIVEN: a caller whose context is canceled (client went away)
	var seen []error
	listener := inventory.ListenerFunc(func(ctx context.Context, ev inventory.ChangeEvent) error {
		seen = append(seen, ctx.Err())
		return nil
	})
	inv := inventory.New(backends["memory"](t), inventory.WithListener(listener))
	p := mustCreate(t, inv, "Caneta", 1, "1.00")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN: the movement still commits
	_, err := inv.Ledger.RecordEntry(ctx, p.ID, 1)
	require.NoError(t, err)

	// THEN: listeners run on a live context
	require.Len(t, seen, 2)
	assert.NoError(t, seen[1])
}
