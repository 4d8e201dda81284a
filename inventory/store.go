/*
store.go - Persistence interface for the catalog and the ledger

PURPOSE:
  Defines the boundary between the inventory core and its storage.
  Implementations:
    - inventory/store: in-memory (tests, dev, "memory" driver)
    - store/sqlstore:  SQLite and PostgreSQL via database/sql

ATOMICITY:
  WithTx runs fn against a transactional view of the store. If fn returns an
  error nothing it wrote is visible. The Ledger pairs ApplyDelta and
  AppendTransaction inside one WithTx so a movement either fully commits or
  leaves no trace.

APPEND-ONLY CONTRACT:
  Transactions have no update method. The single exception is
  DeleteProduct(purgeHistory=true), used only when cascade delete is
  configured.
*/
package inventory

import (
	"context"
	"time"
)

// Store persists products and transactions.
type Store interface {
	// InsertProduct assigns the next ProductID and persists p.
	InsertProduct(ctx context.Context, p Product) (Product, error)

	// GetProduct returns a *NotFoundError when id is absent.
	GetProduct(ctx context.Context, id ProductID) (Product, error)

	// ListProducts returns every product ordered by id ascending.
	ListProducts(ctx context.Context) ([]Product, error)

	// UpdateProduct persists name, price and UpdatedAt. Quantity is ignored.
	UpdateProduct(ctx context.Context, p Product) error

	// DeleteProduct removes a product. With purgeHistory its transactions go too.
	DeleteProduct(ctx context.Context, id ProductID, purgeHistory bool) error

	// ApplyDelta adds delta to the product's quantity as one guarded step.
	// Returns *InsufficientStockError if the result would be negative and
	// *NotFoundError if the product is absent.
	ApplyDelta(ctx context.Context, id ProductID, delta int64, at time.Time) (Product, error)

	// AppendTransaction assigns the next TransactionID and persists tx.
	// Returns ErrDuplicateIdempotencyKey if the key is already used.
	AppendTransaction(ctx context.Context, tx Transaction) (Transaction, error)

	// LoadTransactions returns transactions matching filter, id ascending
	// unless filter.Newest is set.
	LoadTransactions(ctx context.Context, filter TxFilter) ([]Transaction, error)

	// CountTransactions returns how many transactions reference the product.
	CountTransactions(ctx context.Context, productID ProductID) (int, error)

	// IdempotencyKeyExists checks if a transaction already uses key.
	IdempotencyKeyExists(ctx context.Context, key string) (bool, error)

	// WithTx executes fn within a transaction.
	// If fn returns error, everything fn wrote is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// TxFilter narrows LoadTransactions. Zero value means "everything".
type TxFilter struct {
	ProductID *ProductID
	Since     *time.Time // inclusive
	Newest    bool       // id descending
	Limit     int        // 0 = no limit
}
