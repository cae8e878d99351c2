package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const defaultDBName = "taskbridge.db"

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func ParseDialect(v string) (Dialect, error) {
	switch Dialect(v) {
	case "", SQLite:
		return SQLite, nil
	case Postgres:
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported db driver %q (want sqlite or postgres)", v)
}

type Config struct {
	Workspace string
	Driver    Dialect
	// DSN is required for postgres; sqlite derives its file from Workspace.
	DSN string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".taskbridge", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".taskbridge")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database. SQLite runs with foreign keys, WAL and a
// single connection so that writers queue instead of failing with SQLITE_BUSY.
func Open(cfg Config) (*sql.DB, error) {
	switch cfg.Driver {
	case Postgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres requires a database url")
		}
		conn, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case SQLite, "":
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath(cfg.Workspace))
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		conn.SetMaxOpenConns(1)
		return conn, nil
	}
	return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
