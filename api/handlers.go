/*
handlers.go - HTTP API handlers for the inventory ledger

PURPOSE:
  Exposes the catalog, ledger and dashboard via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the inventory core.

REQUEST FLOW:
  1. Parse HTTP request (path params, query, JSON body)
  2. Validate input (validator tags, decimal parsing)
  3. Call the inventory core
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON {"error", "details", "fields"} with:
  - 400: Validation errors, invalid input
  - 404: Product not found
  - 409: Conflict (delete blocked by history, reused idempotency key,
         import into a non-empty catalog)
  - 422: Insufficient stock
  - 429: Rate limit exceeded
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/export"
	"github.com/warp/stock-ledger/importer"
	"github.com/warp/stock-ledger/inventory"
)

const maxBodyBytes = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	LowStockThreshold int64
	Logger            *zap.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	inv       *inventory.Inventory
	importer  *importer.Importer
	auditor   *Auditor
	validate  *validator.Validate
	logger    *zap.Logger
	threshold int64

	// Track the demo scenario loaded through this handler
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over inv.
func NewHandler(inv *inventory.Inventory, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		inv:       inv,
		importer:  importer.New(inv.Catalog, logger),
		auditor:   NewAuditor(inv, logger, cfg.LowStockThreshold),
		validate:  newValidator(),
		logger:    logger.Named("api"),
		threshold: cfg.LowStockThreshold,
	}
}

// Auditor returns the consistency auditor backing GET /api/audit.
func (h *Handler) Auditor() *Auditor { return h.auditor }

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness and, when the store supports it, database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.inv.Store().(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns all products, or those matching ?q= by name.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.inv.Catalog.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeDomainError(w, "Failed to list products", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTOs(products))
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}
	p, err := h.inv.Catalog.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	p, err := h.inv.Catalog.Create(r.Context(), inventory.NewProduct{
		Name:     req.Name,
		Quantity: req.Quantity,
		Price:    *req.Price,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// UpdateProduct changes name and/or price.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}
	var req UpdateProductRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if req.Name == nil && req.Price == nil {
		writeError(w, http.StatusBadRequest, "Nothing to update", errors.New("provide name and/or price"))
		return
	}
	p, err := h.inv.Catalog.Update(r.Context(), id, inventory.ProductUpdate{Name: req.Name, Price: req.Price})
	if err != nil {
		h.writeDomainError(w, "Failed to update product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}
	if err := h.inv.Catalog.Delete(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// RecordEntry handles POST /api/products/{id}/entries.
func (h *Handler) RecordEntry(w http.ResponseWriter, r *http.Request) {
	h.recordMovement(w, r, inventory.KindEntry)
}

// RecordExit handles POST /api/products/{id}/exits.
func (h *Handler) RecordExit(w http.ResponseWriter, r *http.Request) {
	h.recordMovement(w, r, inventory.KindExit)
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request, kind inventory.Kind) {
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}
	var req MovementRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	tx, err := h.inv.Ledger.Record(r.Context(), inventory.Movement{
		ProductID:      id,
		Kind:           kind,
		Quantity:       req.Quantity,
		Reason:         strings.TrimSpace(req.Reason),
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeDomainError(w, fmt.Sprintf("Failed to record %s", kind), err)
		return
	}
	var name string
	if p, err := h.inv.Catalog.Get(r.Context(), id); err == nil {
		name = p.Name
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx, name))
}

// ProductTransactions returns one product's history plus its replayed quantity.
func (h *Handler) ProductTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	p, err := h.inv.Catalog.Get(ctx, id)
	if err != nil {
		h.writeDomainError(w, "Failed to get product", err)
		return
	}
	txs, err := h.inv.Ledger.ProductHistory(ctx, id)
	if err != nil {
		h.writeDomainError(w, "Failed to load history", err)
		return
	}
	replayed, err := h.inv.Ledger.ReconstructQuantity(ctx, id)
	if err != nil {
		h.writeDomainError(w, "Failed to replay history", err)
		return
	}
	writeJSON(w, http.StatusOK, ProductHistoryResponse{
		Product:               toProductDTO(p),
		Transactions:          toTransactionDTOs(txs, productNames{p.ID: p.Name}),
		ReconstructedQuantity: replayed,
	})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.inv.Ledger.History(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to load history", err)
		return
	}
	products, err := h.inv.Catalog.List(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list products", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs, namesOf(products)))
}

// =============================================================================
// DASHBOARD HANDLERS
// =============================================================================

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	threshold, ok := h.thresholdParam(w, r)
	if !ok {
		return
	}
	s, err := h.inv.Dashboard.Summary(r.Context(), threshold)
	if err != nil {
		h.writeDomainError(w, "Failed to build dashboard", err)
		return
	}
	products, err := h.inv.Catalog.List(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list products", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s, namesOf(products)))
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	threshold, ok := h.thresholdParam(w, r)
	if !ok {
		return
	}
	products, err := h.inv.Dashboard.LowStockProducts(r.Context(), threshold)
	if err != nil {
		h.writeDomainError(w, "Failed to list low stock", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTOs(products))
}

// Volume counts entries and exits since ?since= (RFC 3339, default 24h ago).
func (h *Handler) Volume(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since (use RFC 3339)", err)
			return
		}
		since = t
	}
	v, err := h.inv.Dashboard.TransactionVolume(r.Context(), since)
	if err != nil {
		h.writeDomainError(w, "Failed to count transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, VolumeDTO{Since: formatTime(since), Entries: v.Entries, Exits: v.Exits})
}

// Audit runs a consistency check now. With ?cached=true it returns the last
// report of the background auditor instead, running a check only if none
// has completed yet.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	cached, _ := strconv.ParseBool(r.URL.Query().Get("cached"))
	if cached {
		if report, ok := h.auditor.Last(); ok {
			writeJSON(w, http.StatusOK, toAuditResponse(report, true))
			return
		}
	}
	report, err := h.auditor.RunOnce(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to verify ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditResponse(report, false))
}

func toAuditResponse(report AuditReport, cached bool) AuditResponse {
	return AuditResponse{
		CheckedAt:  formatTime(report.CheckedAt),
		Consistent: len(report.Drifts) == 0,
		Cached:     cached,
		Drifts:     toDriftDTOs(report.Drifts),
	}
}

// =============================================================================
// IMPORT / EXPORT
// =============================================================================

// ImportJSON handles POST /api/import with {"products": [...]}.
func (h *Handler) ImportJSON(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	res, err := h.importer.ImportJSON(r.Context(), r.Body, importOptions(r))
	if err != nil {
		h.writeDomainError(w, "Failed to import products", err)
		return
	}
	writeJSON(w, http.StatusCreated, toImportResponse(res))
}

// ImportText handles POST /api/import/text. The body is either the raw
// inventory file or a multipart form with a "file" field.
func (h *Handler) ImportText(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body io.Reader = r.Body
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "Missing file field", err)
			return
		}
		defer file.Close()
		body = file
	}

	res, err := h.importer.ImportText(r.Context(), body, importOptions(r))
	if err != nil {
		h.writeDomainError(w, "Failed to import inventory file", err)
		return
	}
	writeJSON(w, http.StatusCreated, toImportResponse(res))
}

func importOptions(r *http.Request) importer.Options {
	appendMode, _ := strconv.ParseBool(r.URL.Query().Get("append"))
	return importer.Options{Append: appendMode}
}

func toImportResponse(res importer.Result) ImportResponse {
	return ImportResponse{
		BatchID:  res.BatchID,
		Imported: len(res.Imported),
		Products: toProductDTOs(res.Imported),
		Skipped:  res.Skipped,
	}
}

// ExportXLSX streams the catalog and history as an Excel workbook.
func (h *Handler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := export.WriteWorkbook(r.Context(), h.inv, &buf); err != nil {
		h.writeDomainError(w, "Failed to export", err)
		return
	}
	filename := fmt.Sprintf("stock-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps inventory errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, inventory.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, inventory.ErrConflict):
		return http.StatusConflict
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var maxErr *http.MaxBytesError
	if !inventory.IsClientError(err) && !errors.As(err, &maxErr) {
		// store and driver errors stay in the log
		h.logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, nil)
		return
	}
	status := statusFor(err)
	resp := ErrorResponse{Error: message, Details: err.Error()}
	var vErr *inventory.ValidationError
	if errors.As(err, &vErr) {
		resp.Fields = []FieldErrorDTO{{Field: vErr.Field, Message: vErr.Reason}}
	}
	writeJSON(w, status, resp)
}

func productIDParam(w http.ResponseWriter, r *http.Request) (inventory.ProductID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid product id", fmt.Errorf("%q is not a positive integer", raw))
		return 0, false
	}
	return inventory.ProductID(id), true
}

func (h *Handler) thresholdParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("threshold")
	if raw == "" {
		return h.threshold, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "Invalid threshold", fmt.Errorf("%q is not a non-negative integer", raw))
		return 0, false
	}
	return n, true
}

// =============================================================================
// REQUEST VALIDATION
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Use JSON tag names for field names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate decodes the JSON body into dst and runs validator tags.
// On failure it writes a 400 and returns false.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]FieldErrorDTO, len(verrs))
			for i, fe := range verrs {
				fields[i] = FieldErrorDTO{Field: fe.Field(), Message: validationMessage(fe)}
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Request validation failed", Fields: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Request validation failed", err)
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "min":
		if fe.Kind() == reflect.String {
			return "Must be at least " + fe.Param() + " characters"
		}
		return "Must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "Must be at most " + fe.Param() + " characters"
		}
		return "Must be at most " + fe.Param()
	case "gt":
		return "Must be greater than " + fe.Param()
	case "gte":
		return "Must be greater than or equal to " + fe.Param()
	default:
		return "Invalid value"
	}
}
