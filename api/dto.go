/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry `validate` tags checked by go-playground/validator
  before anything reaches the inventory core. The core re-validates; the
  tags only give clients field-level messages early.

MONEY:
  Prices and values travel as decimal strings ("18.90"). Requests accept
  either a JSON string or a JSON number for price.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/importer"
	"github.com/warp/stock-ledger/inventory"
)

// =============================================================================
// PRODUCTS
// =============================================================================

type ProductDTO struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Quantity        int64  `json:"quantity"`
	InitialQuantity int64  `json:"initial_quantity"`
	Price           string `json:"price"`
	TotalValue      string `json:"total_value"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type CreateProductRequest struct {
	Name     string           `json:"name" validate:"required,max=200"`
	Quantity int64            `json:"quantity" validate:"gte=0,max=1000000000000"`
	Price    *decimal.Decimal `json:"price" validate:"required"`
}

// UpdateProductRequest changes name and/or price. Quantity is not accepted;
// stock moves through the entries/exits endpoints.
type UpdateProductRequest struct {
	Name  *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Price *decimal.Decimal `json:"price"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type MovementRequest struct {
	Quantity       int64  `json:"quantity" validate:"gt=0,max=1000000000000"`
	Reason         string `json:"reason" validate:"max=500"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=100"`
}

type TransactionDTO struct {
	ID             int64  `json:"id"`
	ProductID      int64  `json:"product_id"`
	ProductName    string `json:"product_name"`
	Kind           string `json:"kind"`
	Quantity       int64  `json:"quantity"`
	Delta          int64  `json:"delta"`
	Balance        int64  `json:"balance"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type ProductHistoryResponse struct {
	Product               ProductDTO       `json:"product"`
	Transactions          []TransactionDTO `json:"transactions"`
	ReconstructedQuantity int64            `json:"reconstructed_quantity"`
}

// =============================================================================
// DASHBOARD
// =============================================================================

type VolumeDTO struct {
	Since   string `json:"since"`
	Entries int    `json:"entries"`
	Exits   int    `json:"exits"`
}

type SummaryDTO struct {
	GeneratedAt       string           `json:"generated_at"`
	ProductCount      int              `json:"product_count"`
	TotalValue        string           `json:"total_value"`
	LowStockThreshold int64            `json:"low_stock_threshold"`
	LowStock          []ProductDTO     `json:"low_stock"`
	MostExpensive     []ProductDTO     `json:"most_expensive"`
	Recent            []TransactionDTO `json:"recent_transactions"`
	Volume            VolumeDTO        `json:"volume"`
}

type DriftDTO struct {
	ProductID int64  `json:"product_id"`
	Cached    int64  `json:"cached_quantity"`
	Replayed  int64  `json:"replayed_quantity"`
	BrokenAt  *int64 `json:"broken_at_transaction,omitempty"`
}

type AuditResponse struct {
	CheckedAt  string     `json:"checked_at"`
	Consistent bool       `json:"consistent"`
	Cached     bool       `json:"cached"`
	Drifts     []DriftDTO `json:"drifts"`
}

// =============================================================================
// IMPORT / SCENARIOS
// =============================================================================

type ImportResponse struct {
	BatchID  string               `json:"batch_id"`
	Imported int                  `json:"imported"`
	Products []ProductDTO         `json:"products"`
	Skipped  []importer.LineError `json:"skipped,omitempty"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

type FieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Details string          `json:"details,omitempty"`
	Fields  []FieldErrorDTO `json:"fields,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toProductDTO(p inventory.Product) ProductDTO {
	return ProductDTO{
		ID:              int64(p.ID),
		Name:            p.Name,
		Quantity:        p.Quantity,
		InitialQuantity: p.InitialQuantity,
		Price:           p.Price.String(),
		TotalValue:      p.TotalValue().String(),
		CreatedAt:       formatTime(p.CreatedAt),
		UpdatedAt:       formatTime(p.UpdatedAt),
	}
}

func toProductDTOs(products []inventory.Product) []ProductDTO {
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	return dtos
}

// productNames maps product ids to names for joining onto transactions.
type productNames map[inventory.ProductID]string

func namesOf(products []inventory.Product) productNames {
	names := make(productNames, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}
	return names
}

func toTransactionDTO(tx inventory.Transaction, productName string) TransactionDTO {
	return TransactionDTO{
		ID:             int64(tx.ID),
		ProductID:      int64(tx.ProductID),
		ProductName:    productName,
		Kind:           string(tx.Kind),
		Quantity:       tx.Quantity,
		Delta:          tx.Delta(),
		Balance:        tx.Balance,
		Reason:         tx.Reason,
		IdempotencyKey: tx.IdempotencyKey,
		CreatedAt:      formatTime(tx.CreatedAt),
	}
}

func toTransactionDTOs(txs []inventory.Transaction, names productNames) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx, names[tx.ProductID])
	}
	return dtos
}

func toSummaryDTO(s inventory.Summary, names productNames) SummaryDTO {
	return SummaryDTO{
		GeneratedAt:       formatTime(s.GeneratedAt),
		ProductCount:      s.ProductCount,
		TotalValue:        s.TotalValue.String(),
		LowStockThreshold: s.LowStockThreshold,
		LowStock:          toProductDTOs(s.LowStock),
		MostExpensive:     toProductDTOs(s.MostExpensive),
		Recent:            toTransactionDTOs(s.Recent, names),
		Volume: VolumeDTO{
			Since:   formatTime(s.VolumeSince),
			Entries: s.Volume.Entries,
			Exits:   s.Volume.Exits,
		},
	}
}

func toDriftDTOs(drifts []inventory.Drift) []DriftDTO {
	dtos := make([]DriftDTO, len(drifts))
	for i, d := range drifts {
		dtos[i] = DriftDTO{
			ProductID: int64(d.ProductID),
			Cached:    d.Cached,
			Replayed:  d.Replayed,
		}
		if d.BrokenAt != nil {
			id := int64(*d.BrokenAt)
			dtos[i].BrokenAt = &id
		}
	}
	return dtos
}
