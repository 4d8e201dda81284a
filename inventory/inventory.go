package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// INVENTORY - Store-owning facade wired at startup
// =============================================================================

// Inventory owns the catalog, ledger and dashboard over a single Store.
// Build one at startup and inject it into the presentation layer.
type Inventory struct {
	Catalog   *Catalog
	Ledger    *Ledger
	Dashboard *Dashboard

	store Store
}

// Listener is notified after a change commits.
// Errors are logged by the caller and never undo the change.
type Listener interface {
	OnChange(ctx context.Context, ev ChangeEvent) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev ChangeEvent) error

func (f ListenerFunc) OnChange(ctx context.Context, ev ChangeEvent) error { return f(ctx, ev) }

type Option func(*options)

type options struct {
	now           func() time.Time
	logger        *zap.Logger
	listeners     []Listener
	cascadeDelete bool
	cache         SummaryCache
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithListener(l Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// WithCascadeDelete makes Catalog.Delete purge a product's history instead of
// refusing with a ConflictError.
func WithCascadeDelete(enabled bool) Option {
	return func(o *options) { o.cascadeDelete = enabled }
}

// WithSummaryCache caches Dashboard.Summary results. If the cache also
// implements Listener it is registered so changes invalidate it.
func WithSummaryCache(c SummaryCache) Option {
	return func(o *options) {
		o.cache = c
		if l, ok := c.(Listener); ok {
			o.listeners = append(o.listeners, l)
		}
	}
}

// New wires the catalog, ledger and dashboard over store.
func New(store Store, opts ...Option) *Inventory {
	o := options{
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	now := func() time.Time { return o.now().UTC() }

	events := &notifier{listeners: o.listeners, logger: o.logger.Named("events")}
	catalog := &Catalog{
		store:         store,
		now:           now,
		cascadeDelete: o.cascadeDelete,
		events:        events,
	}
	return &Inventory{
		Catalog: catalog,
		Ledger: &Ledger{
			store:   store,
			catalog: catalog,
			now:     now,
			events:  events,
			logger:  o.logger.Named("ledger"),
		},
		Dashboard: &Dashboard{
			store:  store,
			now:    now,
			cache:  o.cache,
			logger: o.logger.Named("dashboard"),
		},
		store: store,
	}
}

// Store returns the underlying store.
func (inv *Inventory) Store() Store { return inv.store }

type notifier struct {
	listeners []Listener
	logger    *zap.Logger
}

// notify runs after commit. Listeners get a context that keeps the caller's
// values but not its cancellation: the change happened either way.
func (n *notifier) notify(ctx context.Context, ev ChangeEvent) {
	if len(n.listeners) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, l := range n.listeners {
		if err := l.OnChange(ctx, ev); err != nil {
			n.logger.Warn("change listener failed",
				zap.String("type", string(ev.Type)),
				zap.Int64("product_id", int64(ev.Product.ID)),
				zap.Error(err))
		}
	}
}
