package sqlstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies all pending up migrations for the dialect.
func Migrate(db *sql.DB, dialect Dialect) error {
	src, err := iofs.New(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	defer src.Close()

	var driver database.Driver
	switch dialect {
	case DialectSQLite:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case DialectPostgres:
		driver, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("failed to init migration driver: %w", err)
	}

	// m.Close() would close db as well, so it is never called here.
	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
