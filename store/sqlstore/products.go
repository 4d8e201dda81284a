package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/warp/stock-ledger/inventory"
)

// =============================================================================
// PRODUCTS
// =============================================================================

var productColumns = []string{
	"id", "name", "quantity", "initial_quantity", "price", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (inventory.Product, error) {
	var p inventory.Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Quantity,
		&p.InitialQuantity,
		&p.Price,
		dbTime{&p.CreatedAt},
		dbTime{&p.UpdatedAt},
	)
	return p, err
}

func (s *Store) InsertProduct(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	defer s.lockWrite()()

	query, args, err := s.sb.Insert("products").
		Columns("name", "quantity", "initial_quantity", "price", "created_at", "updated_at").
		Values(p.Name, p.Quantity, p.InitialQuantity, p.Price, s.timeArg(p.CreatedAt), s.timeArg(p.UpdatedAt)).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return inventory.Product{}, err
	}
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&p.ID); err != nil {
		return inventory.Product{}, fmt.Errorf("failed to insert product: %w", err)
	}
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, id inventory.ProductID) (inventory.Product, error) {
	query, args, err := s.sb.Select(productColumns...).
		From("products").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return inventory.Product{}, err
	}
	p, err := scanProduct(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Product{}, &inventory.NotFoundError{Entity: "product", ID: int64(id)}
	}
	if err != nil {
		return inventory.Product{}, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	query, args, err := s.sb.Select(productColumns...).
		From("products").
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := make([]inventory.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// UpdateProduct persists name, price and updated_at. Quantity is untouched.
func (s *Store) UpdateProduct(ctx context.Context, p inventory.Product) error {
	defer s.lockWrite()()

	query, args, err := s.sb.Update("products").
		Set("name", p.Name).
		Set("price", p.Price).
		Set("updated_at", s.timeArg(p.UpdatedAt)).
		Where(sq.Eq{"id": p.ID}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return requireAffected(res, p.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id inventory.ProductID, purgeHistory bool) error {
	return s.WithTx(ctx, func(st inventory.Store) error {
		tx := st.(*Store)
		if purgeHistory {
			query, args, err := tx.sb.Delete("transactions").Where(sq.Eq{"product_id": id}).ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.q.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to purge history: %w", err)
			}
		}
		query, args, err := tx.sb.Delete("products").Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return err
		}
		res, err := tx.q.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to delete product: %w", err)
		}
		return requireAffected(res, id)
	})
}

// ApplyDelta adds delta to quantity in one guarded UPDATE ... RETURNING.
// No row back means the product is missing or the guard refused.
func (s *Store) ApplyDelta(ctx context.Context, id inventory.ProductID, delta int64, at time.Time) (inventory.Product, error) {
	defer s.lockWrite()()

	query, args, err := s.sb.Update("products").
		Set("quantity", sq.Expr("quantity + ?", delta)).
		Set("updated_at", s.timeArg(at)).
		Where(sq.Eq{"id": id}).
		Where(sq.Expr("quantity + ? >= 0", delta)).
		Suffix("RETURNING " + strings.Join(productColumns, ", ")).
		ToSql()
	if err != nil {
		return inventory.Product{}, err
	}

	p, err := scanProduct(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetProduct(ctx, id)
		if getErr != nil {
			return inventory.Product{}, getErr
		}
		return inventory.Product{}, &inventory.InsufficientStockError{
			ProductID: id,
			Current:   current.Quantity,
			Delta:     delta,
		}
	}
	if err != nil {
		return inventory.Product{}, fmt.Errorf("failed to apply delta: %w", err)
	}
	return p, nil
}

func requireAffected(res sql.Result, id inventory.ProductID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &inventory.NotFoundError{Entity: "product", ID: int64(id)}
	}
	return nil
}
