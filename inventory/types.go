/*
Package inventory provides the inventory ledger: the product catalog and the
append-only log of stock movements that mutates it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: current state of a catalog entry (quantity is a projection)
  - Transaction: an immutable stock movement (entry or exit)
  - Movement: a request to record a transaction
  - ChangeEvent: what listeners see after a change commits

DESIGN PRINCIPLES:
  1. Single chokepoint: quantity only changes through Catalog.applyDelta,
     which the Ledger calls inside a store transaction
  2. Precision: prices are decimal.Decimal, never float64
  3. Auditability: every movement records the balance it produced
  4. Replayability: InitialQuantity + history == current quantity

USAGE:
  inv := inventory.New(store.NewMemory())
  p, _ := inv.Catalog.Create(ctx, inventory.NewProduct{
      Name:     "Caderno",
      Quantity: 10,
      Price:    decimal.RequireFromString("5.00"),
  })
  tx, err := inv.Ledger.RecordExit(ctx, p.ID, 3)

SEE ALSO:
  - catalog.go: product management
  - ledger.go: stock movements
  - store.go: persistence interface
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID int64
type TransactionID int64

// =============================================================================
// PRODUCT
// =============================================================================

// Product is the current state of a catalog entry.
// Quantity is a cached projection of the ledger; only the Ledger changes it.
type Product struct {
	ID              ProductID
	Name            string
	Quantity        int64
	InitialQuantity int64
	Price           decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MaxQuantity bounds any product's stock and any single movement. Two values
// under the bound always sum without overflowing int64.
const MaxQuantity int64 = 1_000_000_000_000

// TotalValue returns quantity × unit price.
func (p Product) TotalValue() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(p.Quantity))
}

// NewProduct carries the attributes of a product to create.
type NewProduct struct {
	Name     string
	Quantity int64
	Price    decimal.Decimal
}

// ProductUpdate is a partial update. Nil fields are left untouched.
// There is deliberately no Quantity field.
type ProductUpdate struct {
	Name  *string
	Price *decimal.Decimal
}

// =============================================================================
// TRANSACTION - Immutable stock movement
// =============================================================================

type Kind string

const (
	KindEntry Kind = "entry" // stock received
	KindExit  Kind = "exit"  // stock removed
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindEntry || k == KindExit
}

// sign returns +1 for entries and -1 for exits.
func (k Kind) sign() int64 {
	if k == KindExit {
		return -1
	}
	return 1
}

type Transaction struct {
	ID             TransactionID
	ProductID      ProductID
	Kind           Kind
	Quantity       int64 // always positive; Kind carries the direction
	Balance        int64 // product quantity right after this transaction
	Reason         string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Delta returns the signed quantity change this transaction applied.
func (t Transaction) Delta() int64 {
	return t.Kind.sign() * t.Quantity
}

// Movement is a request to record a stock transaction.
type Movement struct {
	ProductID      ProductID
	Kind           Kind
	Quantity       int64
	Reason         string
	IdempotencyKey string
}

// =============================================================================
// CHANGE EVENTS - Emitted after commit
// =============================================================================

type ChangeType string

const (
	ChangeProductCreated ChangeType = "product_created"
	ChangeProductUpdated ChangeType = "product_updated"
	ChangeProductDeleted ChangeType = "product_deleted"
	ChangeStockMoved     ChangeType = "stock_moved"
)

type ChangeEvent struct {
	Type        ChangeType
	Product     Product
	Transaction *Transaction // set for ChangeStockMoved
	At          time.Time
}
