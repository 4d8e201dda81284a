package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/inventory"
)

func seedProduct(t *testing.T, m *Memory, qty int64) inventory.Product {
	t.Helper()
	p, err := m.InsertProduct(context.Background(), inventory.Product{
		Name:            "Caderno",
		Quantity:        qty,
		InitialQuantity: qty,
		Price:           decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	return p
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p := seedProduct(t, m, 10)

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(s inventory.Store) error {
		if _, err := s.ApplyDelta(ctx, p.ID, -4, time.Now()); err != nil {
			return err
		}
		if _, err := s.AppendTransaction(ctx, inventory.Transaction{
			ProductID: p.ID, Kind: inventory.KindExit, Quantity: 4, Balance: 6, IdempotencyKey: "k1",
		}); err != nil {
			return err
		}
		if _, err := s.InsertProduct(ctx, inventory.Product{Name: "Lápis"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Quantity)

	txs, err := m.LoadTransactions(ctx, inventory.TxFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)

	exists, err := m.IdempotencyKeyExists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)

	products, err := m.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestMemory_WithTx_NestedJoinsOuter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p := seedProduct(t, m, 1)

	err := m.WithTx(ctx, func(outer inventory.Store) error {
		return outer.WithTx(ctx, func(inner inventory.Store) error {
			_, err := inner.ApplyDelta(ctx, p.ID, 2, time.Now())
			return err
		})
	})
	require.NoError(t, err)

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Quantity)
}

func TestMemory_ApplyDelta_Guard(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p := seedProduct(t, m, 2)

	_, err := m.ApplyDelta(ctx, p.ID, -3, time.Now())
	var short *inventory.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, int64(2), short.Current)

	_, err = m.ApplyDelta(ctx, 99, 1, time.Now())
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	got, err := m.ApplyDelta(ctx, p.ID, -2, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Quantity)
}

func TestMemory_LoadTransactions_Filter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	a := seedProduct(t, m, 0)
	b := seedProduct(t, m, 0)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, pid := range []inventory.ProductID{a.ID, b.ID, a.ID, a.ID} {
		_, err := m.AppendTransaction(ctx, inventory.Transaction{
			ProductID: pid,
			Kind:      inventory.KindEntry,
			Quantity:  1,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	onlyA, err := m.LoadTransactions(ctx, inventory.TxFilter{ProductID: &a.ID})
	require.NoError(t, err)
	assert.Len(t, onlyA, 3)

	since := base.Add(time.Hour)
	recent, err := m.LoadTransactions(ctx, inventory.TxFilter{Since: &since, Newest: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, inventory.TransactionID(4), recent[0].ID)
	assert.Equal(t, inventory.TransactionID(3), recent[1].ID)

	n, err := m.CountTransactions(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemory_AppendTransaction_DuplicateKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p := seedProduct(t, m, 0)

	tx := inventory.Transaction{ProductID: p.ID, Kind: inventory.KindEntry, Quantity: 1, IdempotencyKey: "same"}
	_, err := m.AppendTransaction(ctx, tx)
	require.NoError(t, err)
	_, err = m.AppendTransaction(ctx, tx)
	assert.ErrorIs(t, err, inventory.ErrDuplicateIdempotencyKey)
}

func TestMemory_DeleteProduct_PurgeHistory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p := seedProduct(t, m, 0)
	_, err := m.AppendTransaction(ctx, inventory.Transaction{
		ProductID: p.ID, Kind: inventory.KindEntry, Quantity: 1, IdempotencyKey: "gone",
	})
	require.NoError(t, err)

	require.NoError(t, m.DeleteProduct(ctx, p.ID, true))

	n, err := m.CountTransactions(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	exists, err := m.IdempotencyKeyExists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, m.DeleteProduct(ctx, p.ID, false), inventory.ErrNotFound)
}

func TestMemory_WithTx_RollsBackPurgeAndCounters(t *testing.T) {
	// GIVEN two products with history, one entry keyed
	m := NewMemory()
	ctx := context.Background()
	keep := seedProduct(t, m, 0)
	drop := seedProduct(t, m, 3)
	for _, tx := range []inventory.Transaction{
		{ProductID: drop.ID, Kind: inventory.KindEntry, Quantity: 3, Balance: 3, IdempotencyKey: "drop-1"},
		{ProductID: keep.ID, Kind: inventory.KindEntry, Quantity: 1, Balance: 1},
	} {
		_, err := m.AppendTransaction(ctx, tx)
		require.NoError(t, err)
	}

	// WHEN a transaction appends, renames, purges and inserts, then fails
	boom := errors.New("boom")
	err := m.WithTx(ctx, func(s inventory.Store) error {
		if _, err := s.AppendTransaction(ctx, inventory.Transaction{
			ProductID: drop.ID, Kind: inventory.KindExit, Quantity: 1, Balance: 2, IdempotencyKey: "drop-2",
		}); err != nil {
			return err
		}
		if err := s.UpdateProduct(ctx, inventory.Product{ID: keep.ID, Name: "Renomeado", Price: decimal.NewFromInt(9)}); err != nil {
			return err
		}
		if err := s.DeleteProduct(ctx, drop.ID, true); err != nil {
			return err
		}
		if _, err := s.InsertProduct(ctx, inventory.Product{Name: "Lápis"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// THEN the store is exactly as before
	got, err := m.GetProduct(ctx, drop.ID)
	require.NoError(t, err)
	assert.Equal(t, drop, got)
	got, err = m.GetProduct(ctx, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, "Caderno", got.Name)

	txs, err := m.LoadTransactions(ctx, inventory.TxFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, drop.ID, txs[0].ProductID)
	assert.Equal(t, keep.ID, txs[1].ProductID)

	exists, err := m.IdempotencyKeyExists(ctx, "drop-1")
	require.NoError(t, err)
	assert.True(t, exists, "purged key comes back")
	exists, err = m.IdempotencyKeyExists(ctx, "drop-2")
	require.NoError(t, err)
	assert.False(t, exists, "key from the failed append is released")

	// AND the id counters are reused
	p, err := m.InsertProduct(ctx, inventory.Product{Name: "Borracha"})
	require.NoError(t, err)
	assert.Equal(t, inventory.ProductID(3), p.ID)
	tx, err := m.AppendTransaction(ctx, inventory.Transaction{ProductID: keep.ID, Kind: inventory.KindEntry, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, inventory.TransactionID(3), tx.ID)
}

func TestMemory_WithTx_FailedWriteLeavesNothingToUndo(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p := seedProduct(t, m, 1)
	_, err := m.AppendTransaction(ctx, inventory.Transaction{ProductID: p.ID, Kind: inventory.KindEntry, Quantity: 1, IdempotencyKey: "k"})
	require.NoError(t, err)

	err = m.WithTx(ctx, func(s inventory.Store) error {
		if _, err := s.ApplyDelta(ctx, p.ID, -5, time.Now()); err == nil {
			t.Fatal("expected insufficient stock")
		}
		_, err := s.AppendTransaction(ctx, inventory.Transaction{ProductID: p.ID, Kind: inventory.KindEntry, Quantity: 1, IdempotencyKey: "k"})
		return err
	})
	require.ErrorIs(t, err, inventory.ErrDuplicateIdempotencyKey)

	exists, err := m.IdempotencyKeyExists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists, "rejected duplicate must not release the committed key")
	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Quantity)
}
