package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/warp/stock-ledger/inventory"
)

// =============================================================================
// TRANSACTION STORE (append-only)
// =============================================================================

var transactionColumns = []string{
	"id", "product_id", "kind", "quantity", "balance", "reason", "idempotency_key", "created_at",
}

func scanTransaction(row rowScanner) (inventory.Transaction, error) {
	var (
		tx  inventory.Transaction
		key sql.NullString
	)
	err := row.Scan(
		&tx.ID,
		&tx.ProductID,
		&tx.Kind,
		&tx.Quantity,
		&tx.Balance,
		&tx.Reason,
		&key,
		dbTime{&tx.CreatedAt},
	)
	tx.IdempotencyKey = key.String
	return tx, err
}

// AppendTransaction adds a transaction to the ledger.
func (s *Store) AppendTransaction(ctx context.Context, tx inventory.Transaction) (inventory.Transaction, error) {
	defer s.lockWrite()()

	query, args, err := s.sb.Insert("transactions").
		Columns("product_id", "kind", "quantity", "balance", "reason", "idempotency_key", "created_at").
		Values(tx.ProductID, string(tx.Kind), tx.Quantity, tx.Balance, tx.Reason,
			nullString(tx.IdempotencyKey), s.timeArg(tx.CreatedAt)).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return inventory.Transaction{}, err
	}

	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&tx.ID); err != nil {
		if isUniqueViolation(err) {
			return inventory.Transaction{}, inventory.ErrDuplicateIdempotencyKey
		}
		return inventory.Transaction{}, fmt.Errorf("failed to append transaction: %w", err)
	}
	return tx, nil
}

// LoadTransactions returns transactions matching filter.
func (s *Store) LoadTransactions(ctx context.Context, filter inventory.TxFilter) ([]inventory.Transaction, error) {
	qb := s.sb.Select(transactionColumns...).From("transactions")
	if filter.ProductID != nil {
		qb = qb.Where(sq.Eq{"product_id": *filter.ProductID})
	}
	if filter.Since != nil {
		qb = qb.Where(sq.GtOrEq{"created_at": s.timeArg(*filter.Since)})
	}
	if filter.Newest {
		qb = qb.OrderBy("id DESC")
	} else {
		qb = qb.OrderBy("id ASC")
	}
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]inventory.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *Store) CountTransactions(ctx context.Context, productID inventory.ProductID) (int, error) {
	query, args, err := s.sb.Select("COUNT(*)").
		From("transactions").
		Where(sq.Eq{"product_id": productID}).
		ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

func (s *Store) IdempotencyKeyExists(ctx context.Context, key string) (bool, error) {
	query, args, err := s.sb.Select("1").
		From("transactions").
		Where(sq.Eq{"idempotency_key": key}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = s.q.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return true, nil
}
