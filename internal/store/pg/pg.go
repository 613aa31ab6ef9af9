// Package pg opens the Postgres-backed store.Database and applies the
// embedded schema migrations.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/botgate/internal/store"
	"github.com/nextlevelbuilder/botgate/internal/store/sqlstore"
	"github.com/nextlevelbuilder/botgate/migrations"
)

// OpenDB opens and pings a pgx-backed *sql.DB.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Open connects to dsn, optionally migrating to the latest schema first.
func Open(ctx context.Context, dsn string, autoMigrate bool, defaults store.Defaults) (*sqlstore.DB, error) {
	db, err := OpenDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if autoMigrate {
		m, err := NewMigrator(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			_ = db.Close()
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		v, dirty, _ := m.Version()
		slog.Info("postgres schema ready", "version", v, "dirty", dirty)
	}
	return sqlstore.New(db, sqlstore.Dollar, defaults), nil
}

// NewMigrator builds a migrator reading the embedded migrations.
func NewMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}
