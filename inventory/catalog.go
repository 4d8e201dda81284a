/*
catalog.go - Authoritative store of current product state

OPERATIONS:
  Create / CreateMany  validate and insert
  Seed                 CreateMany into an empty catalog only
  Get / List / Search  reads, id ascending
  Update               name and price only
  Delete               blocked by history unless cascade delete is on
  applyDelta           the one legal way quantity changes (Ledger only)

QUANTITY:
  Update has no quantity field. Stock changes are recorded through the
  Ledger so the history always explains the current quantity.
*/
package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

type Catalog struct {
	store         Store
	now           func() time.Time
	cascadeDelete bool
	events        *notifier
}

// Create validates np and adds it to the catalog.
func (c *Catalog) Create(ctx context.Context, np NewProduct) (Product, error) {
	p, err := c.build(np, "")
	if err != nil {
		return Product{}, err
	}
	created, err := c.store.InsertProduct(ctx, p)
	if err != nil {
		return Product{}, err
	}
	c.events.notify(ctx, ChangeEvent{Type: ChangeProductCreated, Product: created, At: created.CreatedAt})
	return created, nil
}

// CreateMany creates all products or none.
func (c *Catalog) CreateMany(ctx context.Context, nps []NewProduct) ([]Product, error) {
	return c.createMany(ctx, nps, false)
}

// Seed creates all products or none, and only into an empty catalog.
// Otherwise it fails with a *ConflictError. The emptiness check and the
// inserts run in one store transaction; stores serialize transactions
// within a process, not across server processes sharing a database.
func (c *Catalog) Seed(ctx context.Context, nps []NewProduct) ([]Product, error) {
	return c.createMany(ctx, nps, true)
}

func (c *Catalog) createMany(ctx context.Context, nps []NewProduct, requireEmpty bool) ([]Product, error) {
	products := make([]Product, len(nps))
	for i, np := range nps {
		p, err := c.build(np, fmt.Sprintf("products[%d].", i))
		if err != nil {
			return nil, err
		}
		products[i] = p
	}

	created := make([]Product, 0, len(products))
	err := c.store.WithTx(ctx, func(s Store) error {
		if requireEmpty {
			existing, err := s.ListProducts(ctx)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				return &ConflictError{
					Entity: "catalog",
					Reason: fmt.Sprintf("catalog already has %d products", len(existing)),
				}
			}
		}
		for _, p := range products {
			cp, err := s.InsertProduct(ctx, p)
			if err != nil {
				return err
			}
			created = append(created, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range created {
		c.events.notify(ctx, ChangeEvent{Type: ChangeProductCreated, Product: p, At: p.CreatedAt})
	}
	return created, nil
}

func (c *Catalog) build(np NewProduct, fieldPrefix string) (Product, error) {
	name := strings.TrimSpace(np.Name)
	if name == "" {
		return Product{}, &ValidationError{Field: fieldPrefix + "name", Reason: "must not be empty"}
	}
	if np.Quantity < 0 {
		return Product{}, &ValidationError{Field: fieldPrefix + "quantity", Reason: "must not be negative"}
	}
	if np.Quantity > MaxQuantity {
		return Product{}, &ValidationError{Field: fieldPrefix + "quantity", Reason: fmt.Sprintf("must not exceed %d", MaxQuantity)}
	}
	if np.Price.IsNegative() {
		return Product{}, &ValidationError{Field: fieldPrefix + "price", Reason: "must not be negative"}
	}
	now := c.now()
	return Product{
		Name:            name,
		Quantity:        np.Quantity,
		InitialQuantity: np.Quantity,
		Price:           np.Price,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (c *Catalog) Get(ctx context.Context, id ProductID) (Product, error) {
	return c.store.GetProduct(ctx, id)
}

// List returns all products ordered by id. Each call reflects the latest state.
func (c *Catalog) List(ctx context.Context) ([]Product, error) {
	return c.store.ListProducts(ctx)
}

// Search returns products whose name contains term, ignoring case.
// Matching uses Unicode case folding, so "LÁPIS" finds "lápis".
// An empty term returns the full list.
func (c *Catalog) Search(ctx context.Context, term string) ([]Product, error) {
	products, err := c.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return products, nil
	}

	fold := cases.Fold()
	needle := fold.String(term)
	matches := make([]Product, 0, len(products))
	for _, p := range products {
		if strings.Contains(fold.String(p.Name), needle) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

// Update changes name and/or price.
func (c *Catalog) Update(ctx context.Context, id ProductID, u ProductUpdate) (Product, error) {
	var name string
	if u.Name != nil {
		name = strings.TrimSpace(*u.Name)
		if name == "" {
			return Product{}, &ValidationError{Field: "name", Reason: "must not be empty"}
		}
	}
	if u.Price != nil && u.Price.IsNegative() {
		return Product{}, &ValidationError{Field: "price", Reason: "must not be negative"}
	}

	var updated Product
	err := c.store.WithTx(ctx, func(s Store) error {
		p, err := s.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if u.Name != nil {
			p.Name = name
		}
		if u.Price != nil {
			p.Price = *u.Price
		}
		p.UpdatedAt = c.now()
		if err := s.UpdateProduct(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return Product{}, err
	}

	c.events.notify(ctx, ChangeEvent{Type: ChangeProductUpdated, Product: updated, At: updated.UpdatedAt})
	return updated, nil
}

// Delete removes a product. A product with recorded transactions can only be
// deleted when cascade delete is configured, in which case its history goes too.
func (c *Catalog) Delete(ctx context.Context, id ProductID) error {
	var deleted Product
	err := c.store.WithTx(ctx, func(s Store) error {
		p, err := s.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		n, err := s.CountTransactions(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 && !c.cascadeDelete {
			return &ConflictError{
				Entity: "product",
				ID:     int64(id),
				Reason: fmt.Sprintf("product has %d recorded transactions", n),
			}
		}
		deleted = p
		return s.DeleteProduct(ctx, id, n > 0)
	})
	if err != nil {
		return err
	}

	c.events.notify(ctx, ChangeEvent{Type: ChangeProductDeleted, Product: deleted, At: c.now()})
	return nil
}

// applyDelta is the only path by which quantity changes. It must run inside
// the caller's store transaction, paired with the ledger append: a result over
// MaxQuantity is returned as an error so the transaction rolls back.
func (c *Catalog) applyDelta(ctx context.Context, s Store, id ProductID, delta int64) (Product, error) {
	if delta > MaxQuantity || delta < -MaxQuantity {
		return Product{}, &ValidationError{Field: "quantity", Reason: fmt.Sprintf("must not exceed %d", MaxQuantity)}
	}
	p, err := s.ApplyDelta(ctx, id, delta, c.now())
	if err != nil {
		return Product{}, err
	}
	if p.Quantity > MaxQuantity {
		return Product{}, &ValidationError{
			Field:  "quantity",
			Reason: fmt.Sprintf("stock of product %d would reach %d, over the maximum of %d", id, p.Quantity, MaxQuantity),
		}
	}
	return p, nil
}
