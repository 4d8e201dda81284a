/*
Package sqlstore provides a database/sql implementation of inventory.Store.

DIALECTS:
  sqlite:   github.com/mattn/go-sqlite3, default for single-node deployments
  postgres: github.com/jackc/pgx/v5/stdlib, for DATABASE_URL deployments

  Both share one code path. Queries are built with squirrel, which rewrites
  placeholders for the dialect ("?" vs "$1").

KEY TABLES:
  products:     current state, CHECK (quantity >= 0)
  transactions: append-only ledger, idempotency_key UNIQUE,
                product_id REFERENCES products(id)

CONCURRENCY:
  ApplyDelta is a single guarded statement:

    UPDATE products SET quantity = quantity + d
    WHERE id = ? AND quantity + d >= 0
    RETURNING ...

  so two concurrent exits can never both pass the stock check, even from
  different processes. WithTx additionally serializes writers inside this
  process, which keeps SQLite away from SQLITE_BUSY.

MIGRATION:
  Schema is applied on Open() with golang-migrate from embedded files
  (migrations/<dialect>/*.sql).

USAGE:
  store, err := sqlstore.Open(ctx, sqlstore.DialectSQLite, "./data/stock.db")
  if err != nil {
      return err
  }
  defer store.Close()
  inv := inventory.New(store)
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/stock-ledger/inventory"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unknown database dialect %q", name)
}

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite3"
}

func (d Dialect) placeholder() sq.PlaceholderFormat {
	if d == DialectPostgres {
		return sq.Dollar
	}
	return sq.Question
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements inventory.Store over database/sql.
type Store struct {
	db      *sql.DB
	q       queryer
	dialect Dialect
	sb      sq.StatementBuilderType
	mu      *sync.Mutex
	inTx    bool
}

var _ inventory.Store = (*Store)(nil)

// Open connects, applies migrations and returns a ready Store.
// For SQLite use a file path or ":memory:".
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	if dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == DialectSQLite && isSQLiteMemory(dsn) {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrateOn(db, dialect, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return New(db, dialect), nil
}

// migrateOn runs migrations for Open. The Postgres migration driver pins a
// pooled connection for its advisory lock, so it gets a short-lived pool of
// its own. SQLite in-memory databases only exist on db itself.
func migrateOn(db *sql.DB, dialect Dialect, dsn string) error {
	if dialect != DialectPostgres {
		return Migrate(db, dialect)
	}
	mdb, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return err
	}
	defer mdb.Close()
	return Migrate(mdb, dialect)
}

// New wraps an already migrated database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		q:       db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(dialect.placeholder()),
		mu:      &sync.Mutex{},
	}
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

func isSQLiteMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a database transaction.
// Nested calls join the enclosing transaction.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &Store{
		db:      s.db,
		q:       sqlTx,
		dialect: s.dialect,
		sb:      s.sb,
		mu:      s.mu,
		inTx:    true,
	}
	if err := fn(txStore); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// lockWrite serializes a standalone write. Inside WithTx the lock is held already.
func (s *Store) lockWrite() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

// sqliteTimeLayout is fixed width so TEXT comparisons order chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func (s *Store) timeArg(t time.Time) any {
	if s.dialect == DialectSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

// dbTime scans TEXT (SQLite) or TIMESTAMPTZ (Postgres) columns.
type dbTime struct{ t *time.Time }

func (d dbTime) Scan(v any) error {
	switch x := v.(type) {
	case time.Time:
		*d.t = x.UTC()
		return nil
	case string:
		return d.parse(x)
	case []byte:
		return d.parse(string(x))
	case nil:
		*d.t = time.Time{}
		return nil
	}
	return fmt.Errorf("cannot scan %T into time", v)
}

func (d dbTime) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	*d.t = t.UTC()
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}
