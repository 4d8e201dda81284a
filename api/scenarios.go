/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate an empty inventory with
	realistic data. Each scenario creates a catalog and records a few
	movements through the ledger, so history and dashboard have content.

AVAILABLE SCENARIOS:
	stationery-shop:  Small school-supplies shop, a week of sales
	low-stock:        Several products at or under the low-stock threshold
	restock-day:      Supplier deliveries with idempotency keys and one refused exit

HOW SCENARIOS WORK:
 1. Create all products in one Catalog.Seed, which refuses a non-empty
    catalog (the ledger cannot be reset)
 2. Record each movement through the Ledger

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "stationery-shop"}
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/inventory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenarioProduct struct {
	name     string
	quantity int64
	price    string
}

type scenarioMove struct {
	product  int // index into products
	kind     inventory.Kind
	quantity int64
	reason   string
	key      string
}

type scenario struct {
	ScenarioDTO
	products []scenarioProduct
	moves    []scenarioMove
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "stationery-shop",
			Name:        "Stationery Shop",
			Description: "School-supplies catalog with a week of sales and one delivery",
		},
		products: []scenarioProduct{
			{"Caderno universitário 10 matérias", 40, "24.90"},
			{"Caneta esferográfica azul", 200, "1.80"},
			{"Lápis preto HB", 150, "0.90"},
			{"Borracha branca", 80, "1.20"},
			{"Marca-texto amarelo", 35, "4.50"},
			{"Cola bastão 40g", 25, "7.90"},
			{"Régua 30cm", 30, "3.20"},
			{"Mochila escolar", 6, "129.00"},
		},
		moves: []scenarioMove{
			{0, inventory.KindExit, 12, "venda", ""},
			{1, inventory.KindExit, 48, "venda", ""},
			{2, inventory.KindExit, 30, "venda", ""},
			{7, inventory.KindExit, 3, "venda", ""},
			{5, inventory.KindEntry, 20, "reposição fornecedor", ""},
			{3, inventory.KindExit, 10, "venda", ""},
			{4, inventory.KindExit, 33, "volta às aulas", ""},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "low-stock",
			Name:        "Low Stock",
			Description: "Most products at or under the low-stock threshold",
		},
		products: []scenarioProduct{
			{"Grampeador", 2, "18.50"},
			{"Clipes (caixa)", 0, "3.40"},
			{"Tesoura escolar", 4, "6.90"},
			{"Papel sulfite A4 (resma)", 5, "27.00"},
			{"Apontador", 12, "1.50"},
		},
		moves: []scenarioMove{
			{3, inventory.KindExit, 1, "venda", ""},
			{4, inventory.KindExit, 9, "pedido escola", ""},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "restock-day",
			Name:        "Restock Day",
			Description: "Supplier deliveries recorded with idempotency keys",
		},
		products: []scenarioProduct{
			{"Caderno brochura", 3, "8.90"},
			{"Caneta gel preta", 1, "5.60"},
			{"Fita adesiva", 0, "4.10"},
		},
		moves: []scenarioMove{
			{0, inventory.KindEntry, 50, "NF 1032", "nf-1032-1"},
			{1, inventory.KindEntry, 100, "NF 1032", "nf-1032-2"},
			{2, inventory.KindEntry, 24, "NF 1033", "nf-1033-1"},
			{1, inventory.KindExit, 15, "venda", ""},
			{2, inventory.KindExit, 30, "venda (recusada: estoque insuficiente)", ""},
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the scenario loaded through this server, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s, _ := findScenario(current)
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario loads a predefined scenario into an empty inventory.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q does not exist", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadScenario(r.Context(), s); err != nil {
		h.writeDomainError(w, "Failed to load scenario", err)
		return
	}
	h.currentScenario = s.ID
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario": s.ID})
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	nps := make([]inventory.NewProduct, len(s.products))
	for i, p := range s.products {
		nps[i] = inventory.NewProduct{
			Name:     p.name,
			Quantity: p.quantity,
			Price:    decimal.RequireFromString(p.price),
		}
	}
	created, err := h.inv.Catalog.Seed(ctx, nps)
	if err != nil {
		return err
	}

	for _, m := range s.moves {
		_, err := h.inv.Ledger.Record(ctx, inventory.Movement{
			ProductID:      created[m.product].ID,
			Kind:           m.kind,
			Quantity:       m.quantity,
			Reason:         m.reason,
			IdempotencyKey: m.key,
		})
		if errors.Is(err, inventory.ErrInsufficientStock) {
			// refused exits are part of some scenarios
			h.logger.Info("scenario movement refused", zap.String("scenario", s.ID), zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}
	}

	h.logger.Info("scenario loaded",
		zap.String("scenario", s.ID),
		zap.Int("products", len(created)),
		zap.Int("movements", len(s.moves)))
	return nil
}
