/*
auditor.go - Periodic ledger/catalog consistency check

PURPOSE:
  Replays the ledger against the catalog on a ticker and logs any product
  whose cached quantity the history no longer explains. Also logs the
  current low-stock list so operators see it without opening the dashboard.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on Start
  - Keeps the last report for GET /api/audit?cached=true
  - Interval <= 0 disables the background loop; RunOnce still works

USAGE:
  auditor := NewAuditor(inv, logger, 4)
  auditor.Interval = time.Hour
  auditor.Start()
  // ... later
  auditor.Stop()
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/stock-ledger/inventory"
)

const auditTimeout = 30 * time.Second

// AuditReport is the outcome of one consistency check.
type AuditReport struct {
	CheckedAt time.Time
	Drifts    []inventory.Drift
	LowStock  []inventory.Product
}

// Auditor checks ledger consistency periodically.
type Auditor struct {
	Interval time.Duration

	inv       *inventory.Inventory
	logger    *zap.Logger
	threshold int64

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *AuditReport
}

// NewAuditor creates an auditor with a one hour interval.
func NewAuditor(inv *inventory.Inventory, logger *zap.Logger, lowStockThreshold int64) *Auditor {
	return &Auditor{
		Interval:  time.Hour,
		inv:       inv,
		logger:    logger.Named("auditor"),
		threshold: lowStockThreshold,
	}
}

// Start begins the background loop.
func (a *Auditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Interval <= 0 {
		a.logger.Info("auditor disabled, not starting")
		return
	}
	if a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.Interval)
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.run(a.ticker, a.stop)

	a.logger.Info("auditor started", zap.Duration("interval", a.Interval))
}

// Stop stops the background loop and waits for an in-flight check.
func (a *Auditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker == nil {
		return
	}
	a.ticker.Stop()
	close(a.stop)
	a.wg.Wait()
	a.ticker = nil
	a.logger.Info("auditor stopped")
}

func (a *Auditor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer a.wg.Done()

	a.check()
	for {
		select {
		case <-ticker.C:
			a.check()
		case <-stop:
			return
		}
	}
}

func (a *Auditor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if _, err := a.RunOnce(ctx); err != nil {
		a.logger.Error("audit failed", zap.Error(err))
	}
}

// RunOnce verifies the ledger now and records the report.
func (a *Auditor) RunOnce(ctx context.Context) (AuditReport, error) {
	drifts, err := a.inv.Ledger.Verify(ctx)
	if err != nil {
		return AuditReport{}, err
	}
	low, err := a.inv.Dashboard.LowStockProducts(ctx, a.threshold)
	if err != nil {
		return AuditReport{}, err
	}
	report := AuditReport{CheckedAt: time.Now().UTC(), Drifts: drifts, LowStock: low}

	for _, d := range drifts {
		fields := []zap.Field{
			zap.Int64("product_id", int64(d.ProductID)),
			zap.Int64("cached", d.Cached),
			zap.Int64("replayed", d.Replayed),
		}
		if d.BrokenAt != nil {
			fields = append(fields, zap.Int64("broken_at_tx", int64(*d.BrokenAt)))
		}
		a.logger.Error("ledger drift detected", fields...)
	}
	if len(low) > 0 {
		names := make([]string, len(low))
		for i, p := range low {
			names[i] = p.Name
		}
		a.logger.Warn("products at or below low-stock threshold",
			zap.Int64("threshold", a.threshold),
			zap.Strings("products", names))
	}
	a.logger.Debug("audit completed", zap.Int("drifts", len(drifts)))

	a.lastMu.Lock()
	a.last = &report
	a.lastMu.Unlock()
	return report, nil
}

// Last returns the most recent report, if any check has run.
func (a *Auditor) Last() (AuditReport, bool) {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	if a.last == nil {
		return AuditReport{}, false
	}
	return *a.last, true
}
