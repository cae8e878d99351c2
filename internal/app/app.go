// Package app wires the database, configuration, lock backend and engine shared by
// the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskbridge/internal/config"
	"taskbridge/internal/db"
	"taskbridge/internal/engine"
	"taskbridge/internal/lock"
	"taskbridge/internal/migrate"
)

type Options struct {
	Workspace   string
	Driver      string
	DatabaseURL string
	// RedisURL selects the redis lock backend; it overrides locking.backend.
	RedisURL string
	// Migrate applies pending migrations after opening the database.
	Migrate bool
}

type App struct {
	DB      *sql.DB
	Dialect db.Dialect
	Config  *config.Config
	Engine  engine.Engine

	closers []func() error
}

// Open loads the workspace config, opens the database and builds the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	dialect, err := db.ParseDialect(opts.Driver)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: dialect, DSN: opts.DatabaseURL})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a := &App{DB: conn, Dialect: dialect, Config: cfg}
	a.closers = append(a.closers, conn.Close)
	if err := conn.PingContext(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if opts.Migrate {
		if err := migrate.Migrate(conn, dialect); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	locks, err := a.locker(ctx, opts.RedisURL)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Engine = engine.New(conn, dialect, cfg, locks)
	return a, nil
}

func (a *App) locker(ctx context.Context, redisURL string) (lock.Locker, error) {
	redisURL = strings.TrimSpace(redisURL)
	if redisURL == "" && a.Config.Locking.Backend != "redis" {
		return lock.NewLocal(), nil
	}
	if redisURL == "" {
		return nil, errors.New("locking.backend is redis but no redis url was given")
	}
	l, err := lock.NewRedisFromURL(ctx, redisURL, a.Config.LockTTL())
	if err != nil {
		return nil, fmt.Errorf("redis lock: %w", err)
	}
	a.closers = append(a.closers, l.Close)
	return l, nil
}

// Close releases everything Open acquired, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
