/*
Package importer bulk-loads products into the catalog.

FORMATS:
  Text inventory files, one product per line:

      12 Caderno universitário 18,90
      Lápis preto 0.90          (quantity defaults to 1)
      3 Borracha branca.        (price defaults to 0, trailing dot dropped)

  JSON documents:

      {"products": [{"name": "Caneta", "quantity": 30, "price": "2.50"}]}

ATOMICITY:
  Every import is one Catalog call: all products land or none do.
  Catalog.Seed refuses a non-empty catalog inside the same transaction;
  Append switches to Catalog.CreateMany.
*/
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/inventory"
)

type Options struct {
	// Append allows importing into a catalog that already has products.
	Append bool
}

// LineError describes a text line that could not be imported.
type LineError struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

type Result struct {
	BatchID  string              `json:"batch_id"`
	Imported []inventory.Product `json:"-"`
	Skipped  []LineError         `json:"skipped,omitempty"`
}

type Importer struct {
	catalog *inventory.Catalog
	logger  *zap.Logger
}

func New(catalog *inventory.Catalog, logger *zap.Logger) *Importer {
	return &Importer{catalog: catalog, logger: logger.Named("importer")}
}

// =============================================================================
// TEXT FORMAT
// =============================================================================

var (
	// "<qty> <name> [price]"
	withQuantity = regexp.MustCompile(`^(\d+)\s+(.*?)(?:\s+(\d+(?:[.,]\d+)?))?$`)
	// "<name> [price]"
	withoutQuantity = regexp.MustCompile(`^(.*?)(?:\s+(\d+(?:[.,]\d+)?))?$`)
)

// ParseText reads a text inventory file. Lines that cannot be turned into a
// product are reported in the second return value and otherwise ignored.
func ParseText(r io.Reader) ([]inventory.NewProduct, []LineError, error) {
	var (
		products []inventory.NewProduct
		skipped  []LineError
	)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if len(line) < 3 {
			continue
		}
		np, err := parseLine(line)
		if err != nil {
			skipped = append(skipped, LineError{Line: lineNo, Text: line, Reason: err.Error()})
			continue
		}
		products = append(products, np)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read inventory file: %w", err)
	}
	return products, skipped, nil
}

func parseLine(line string) (inventory.NewProduct, error) {
	var (
		name     string
		priceStr string
		quantity int64 = 1
	)
	if m := withQuantity.FindStringSubmatch(line); m != nil {
		q, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return inventory.NewProduct{}, fmt.Errorf("invalid quantity %q", m[1])
		}
		quantity, name, priceStr = q, m[2], m[3]
	} else {
		m := withoutQuantity.FindStringSubmatch(line)
		name, priceStr = m[1], m[2]
	}

	price := decimal.Zero
	if priceStr != "" {
		if p, err := decimal.NewFromString(strings.ReplaceAll(priceStr, ",", ".")); err == nil {
			price = p
		}
	}

	name = strings.TrimSpace(name)
	name = strings.TrimSpace(strings.TrimSuffix(name, "."))
	if name == "" {
		return inventory.NewProduct{}, fmt.Errorf("missing product name")
	}
	return inventory.NewProduct{Name: name, Quantity: quantity, Price: price}, nil
}

// ImportText parses r and creates every parsed product.
func (im *Importer) ImportText(ctx context.Context, r io.Reader, opts Options) (Result, error) {
	products, skipped, err := ParseText(r)
	if err != nil {
		return Result{}, err
	}
	res, err := im.create(ctx, products, opts)
	if err != nil {
		return Result{}, err
	}
	res.Skipped = skipped
	for _, s := range skipped {
		im.logger.Warn("inventory line skipped",
			zap.String("batch_id", res.BatchID),
			zap.Int("line", s.Line),
			zap.String("reason", s.Reason))
	}
	return res, nil
}

// =============================================================================
// JSON FORMAT
// =============================================================================

type jsonDocument struct {
	Products []jsonProduct `json:"products"`
}

type jsonProduct struct {
	Name     string          `json:"name"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// ImportJSON decodes a {"products": [...]} document and creates its products.
func (im *Importer) ImportJSON(ctx context.Context, r io.Reader, opts Options) (Result, error) {
	var doc jsonDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Result{}, &inventory.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()}
	}
	products := make([]inventory.NewProduct, len(doc.Products))
	for i, p := range doc.Products {
		products[i] = inventory.NewProduct{Name: p.Name, Quantity: p.Quantity, Price: p.Price}
	}
	return im.create(ctx, products, opts)
}

func (im *Importer) create(ctx context.Context, products []inventory.NewProduct, opts Options) (Result, error) {
	batchID := uuid.NewString()
	var (
		created []inventory.Product
		err     error
	)
	if opts.Append {
		created, err = im.catalog.CreateMany(ctx, products)
	} else {
		created, err = im.catalog.Seed(ctx, products)
	}
	if err != nil {
		return Result{}, err
	}
	im.logger.Info("products imported",
		zap.String("batch_id", batchID),
		zap.Int("count", len(created)),
		zap.Bool("append", opts.Append))
	return Result{BatchID: batchID, Imported: created}, nil
}
