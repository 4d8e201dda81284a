package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// DASHBOARD - Read-only aggregation over catalog + ledger
// =============================================================================

const (
	mostExpensiveLimit = 5
	recentLimit        = 10
	volumeWindow       = 24 * time.Hour
)

// Dashboard derives summaries. It never mutates and keeps no state of its own;
// the optional cache only memoizes Summary.
type Dashboard struct {
	store  Store
	now    func() time.Time
	cache  SummaryCache
	logger *zap.Logger
}

// Volume counts ledger transactions by kind.
type Volume struct {
	Entries int
	Exits   int
}

type Summary struct {
	GeneratedAt       time.Time
	ProductCount      int
	TotalValue        decimal.Decimal
	LowStockThreshold int64
	LowStock          []Product
	MostExpensive     []Product
	Recent            []Transaction // newest first
	VolumeSince       time.Time
	Volume            Volume
}

// SummaryCache memoizes dashboard summaries.
type SummaryCache interface {
	GetSummary(ctx context.Context, key string) (Summary, bool, error)
	SetSummary(ctx context.Context, key string, s Summary) error
}

// TotalInventoryValue sums quantity × price over all products.
func (d *Dashboard) TotalInventoryValue(ctx context.Context) (decimal.Decimal, error) {
	products, err := d.store.ListProducts(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return totalValue(products), nil
}

func totalValue(products []Product) decimal.Decimal {
	total := decimal.Zero
	for _, p := range products {
		total = total.Add(p.TotalValue())
	}
	return total
}

// LowStockProducts returns products with quantity <= threshold, ordered by
// quantity then id.
func (d *Dashboard) LowStockProducts(ctx context.Context, threshold int64) ([]Product, error) {
	products, err := d.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return lowStock(products, threshold), nil
}

func lowStock(products []Product, threshold int64) []Product {
	low := make([]Product, 0)
	for _, p := range products {
		if p.Quantity <= threshold {
			low = append(low, p)
		}
	}
	sort.Slice(low, func(i, j int) bool {
		if low[i].Quantity != low[j].Quantity {
			return low[i].Quantity < low[j].Quantity
		}
		return low[i].ID < low[j].ID
	})
	return low
}

// TransactionVolume counts entries and exits recorded at or after since.
func (d *Dashboard) TransactionVolume(ctx context.Context, since time.Time) (Volume, error) {
	txs, err := d.store.LoadTransactions(ctx, TxFilter{Since: &since})
	if err != nil {
		return Volume{}, err
	}
	var v Volume
	for _, tx := range txs {
		switch tx.Kind {
		case KindEntry:
			v.Entries++
		case KindExit:
			v.Exits++
		}
	}
	return v, nil
}

// Summary gathers the dashboard view in one call.
func (d *Dashboard) Summary(ctx context.Context, lowStockThreshold int64) (Summary, error) {
	key := fmt.Sprintf("summary:%d", lowStockThreshold)
	if d.cache != nil {
		s, ok, err := d.cache.GetSummary(ctx, key)
		if err != nil {
			d.logger.Warn("summary cache read failed", zap.Error(err))
		} else if ok {
			return s, nil
		}
	}

	products, err := d.store.ListProducts(ctx)
	if err != nil {
		return Summary{}, err
	}
	recent, err := d.store.LoadTransactions(ctx, TxFilter{Newest: true, Limit: recentLimit})
	if err != nil {
		return Summary{}, err
	}
	now := d.now()
	since := now.Add(-volumeWindow)
	volume, err := d.TransactionVolume(ctx, since)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		GeneratedAt:       now,
		ProductCount:      len(products),
		TotalValue:        totalValue(products),
		LowStockThreshold: lowStockThreshold,
		LowStock:          lowStock(products, lowStockThreshold),
		MostExpensive:     mostExpensive(products, mostExpensiveLimit),
		Recent:            recent,
		VolumeSince:       since,
		Volume:            volume,
	}

	if d.cache != nil {
		if err := d.cache.SetSummary(ctx, key, s); err != nil {
			d.logger.Warn("summary cache write failed", zap.Error(err))
		}
	}
	return s, nil
}

func mostExpensive(products []Product, n int) []Product {
	sorted := make([]Product, len(products))
	copy(sorted, products)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Price.Equal(sorted[j].Price) {
			return sorted[i].Price.GreaterThan(sorted[j].Price)
		}
		return sorted[i].ID < sorted[j].ID
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
