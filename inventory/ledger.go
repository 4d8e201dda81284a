/*
ledger.go - Append-only log of stock movements

PURPOSE:
  The Ledger records every stock entry and exit. Product.Quantity is a cached
  projection of it: replaying a product's history from its InitialQuantity
  must reproduce the current quantity exactly.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: transactions are never edited or deleted
  2. NON-NEGATIVE: an exit can never drive stock below zero
  3. ATOMIC: the quantity update and its transaction commit together

CORRECTIONS:
  A wrong movement is fixed with a compensating movement of the opposite
  kind. Both stay in the history.

EXAMPLE FLOW:
  1. Create "Caderno" with 10 units     quantity 10
  2. RecordEntry(id, 5)                 ENTRY 5, balance 15
  3. RecordExit(id, 20)                 InsufficientStockError, still 15
  4. RecordExit(id, 15)                 EXIT 15, balance 0
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store   Store
	catalog *Catalog
	now     func() time.Time
	events  *notifier
	logger  *zap.Logger
}

// RecordEntry adds quantity units to the product's stock.
func (l *Ledger) RecordEntry(ctx context.Context, productID ProductID, quantity int64) (Transaction, error) {
	return l.Record(ctx, Movement{ProductID: productID, Kind: KindEntry, Quantity: quantity})
}

// RecordExit removes quantity units from the product's stock.
// Fails with *InsufficientStockError if fewer units are available.
func (l *Ledger) RecordExit(ctx context.Context, productID ProductID, quantity int64) (Transaction, error) {
	return l.Record(ctx, Movement{ProductID: productID, Kind: KindExit, Quantity: quantity})
}

// Record validates m, applies it to the catalog and appends the resulting
// transaction in a single store transaction.
func (l *Ledger) Record(ctx context.Context, m Movement) (Transaction, error) {
	if !m.Kind.Valid() {
		return Transaction{}, &ValidationError{Field: "kind", Reason: "must be entry or exit"}
	}
	if m.Quantity <= 0 {
		return Transaction{}, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if m.Quantity > MaxQuantity {
		return Transaction{}, &ValidationError{Field: "quantity", Reason: fmt.Sprintf("must not exceed %d", MaxQuantity)}
	}

	var (
		recorded Transaction
		product  Product
	)
	err := l.store.WithTx(ctx, func(s Store) error {
		if m.IdempotencyKey != "" {
			exists, err := s.IdempotencyKeyExists(ctx, m.IdempotencyKey)
			if err != nil {
				return err
			}
			if exists {
				return duplicateKey(m)
			}
		}

		p, err := l.catalog.applyDelta(ctx, s, m.ProductID, m.Kind.sign()*m.Quantity)
		if err != nil {
			return err
		}

		tx, err := s.AppendTransaction(ctx, Transaction{
			ProductID:      m.ProductID,
			Kind:           m.Kind,
			Quantity:       m.Quantity,
			Balance:        p.Quantity,
			Reason:         m.Reason,
			IdempotencyKey: m.IdempotencyKey,
			CreatedAt:      p.UpdatedAt,
		})
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return duplicateKey(m)
		}
		if err != nil {
			return err
		}
		recorded, product = tx, p
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}

	l.logger.Debug("stock moved",
		zap.Int64("product_id", int64(recorded.ProductID)),
		zap.Int64("tx_id", int64(recorded.ID)),
		zap.String("kind", string(recorded.Kind)),
		zap.Int64("quantity", recorded.Quantity),
		zap.Int64("balance", recorded.Balance))

	l.events.notify(ctx, ChangeEvent{
		Type:        ChangeStockMoved,
		Product:     product,
		Transaction: &recorded,
		At:          recorded.CreatedAt,
	})
	return recorded, nil
}

func duplicateKey(m Movement) error {
	return &ConflictError{
		Entity: "product",
		ID:     int64(m.ProductID),
		Reason: "idempotency key already used: " + m.IdempotencyKey,
		Err:    ErrDuplicateIdempotencyKey,
	}
}

// History returns every transaction in insertion (chronological) order.
func (l *Ledger) History(ctx context.Context) ([]Transaction, error) {
	return l.store.LoadTransactions(ctx, TxFilter{})
}

// ProductHistory returns the product's transactions in insertion order.
func (l *Ledger) ProductHistory(ctx context.Context, productID ProductID) ([]Transaction, error) {
	if _, err := l.store.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return l.store.LoadTransactions(ctx, TxFilter{ProductID: &productID})
}

// ReconstructQuantity replays the product's history from its initial
// quantity. The result must always equal the catalog quantity.
func (l *Ledger) ReconstructQuantity(ctx context.Context, productID ProductID) (int64, error) {
	var replayed int64
	err := l.store.WithTx(ctx, func(s Store) error {
		p, err := s.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		txs, err := s.LoadTransactions(ctx, TxFilter{ProductID: &productID})
		if err != nil {
			return err
		}
		replayed, _ = replay(p.InitialQuantity, txs)
		return nil
	})
	return replayed, err
}

// =============================================================================
// VERIFICATION
// =============================================================================

// Drift describes a product whose history does not explain its quantity.
type Drift struct {
	ProductID ProductID
	Cached    int64 // Product.Quantity
	Replayed  int64 // InitialQuantity + Σ deltas

	// BrokenAt is the first transaction whose recorded Balance disagrees
	// with the running replay. Nil when every balance matches.
	BrokenAt *TransactionID
}

// Verify replays every product from one consistent snapshot and returns the
// ones that drifted. An empty result means the ledger explains the catalog.
func (l *Ledger) Verify(ctx context.Context) ([]Drift, error) {
	var drifts []Drift
	err := l.store.WithTx(ctx, func(s Store) error {
		products, err := s.ListProducts(ctx)
		if err != nil {
			return err
		}
		txs, err := s.LoadTransactions(ctx, TxFilter{})
		if err != nil {
			return err
		}
		byProduct := make(map[ProductID][]Transaction, len(products))
		for _, tx := range txs {
			byProduct[tx.ProductID] = append(byProduct[tx.ProductID], tx)
		}

		drifts = drifts[:0]
		for _, p := range products {
			replayed, broken := replay(p.InitialQuantity, byProduct[p.ID])
			if replayed != p.Quantity || broken != nil {
				drifts = append(drifts, Drift{
					ProductID: p.ID,
					Cached:    p.Quantity,
					Replayed:  replayed,
					BrokenAt:  broken,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return drifts, nil
}

func replay(initial int64, txs []Transaction) (int64, *TransactionID) {
	balance := initial
	var broken *TransactionID
	for _, tx := range txs {
		balance += tx.Delta()
		if broken == nil && tx.Balance != balance {
			id := tx.ID
			broken = &id
		}
	}
	return balance, broken
}
