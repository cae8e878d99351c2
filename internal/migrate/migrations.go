package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"taskbridge/internal/db"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded migrations for the dialect. The migrate instance is
// left open because closing it closes conn.
func Migrate(conn *sql.DB, dialect db.Dialect) error {
	var (
		driver database.Driver
		err    error
		dir    string
	)
	switch dialect {
	case db.Postgres:
		dir = "sql/postgres"
		driver, err = postgres.WithInstance(conn, &postgres.Config{})
	case db.SQLite, "":
		dialect = db.SQLite
		dir = "sql/sqlite"
		driver, err = sqlite.WithInstance(conn, &sqlite.Config{})
	default:
		return fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		return fmt.Errorf("migration init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
