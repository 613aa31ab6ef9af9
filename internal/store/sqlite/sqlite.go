// Package sqlite opens a single-file store.Database on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/botgate/internal/store"
	"github.com/nextlevelbuilder/botgate/internal/store/sqlstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS bot_users (
	platform   TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	authority  INTEGER NOT NULL DEFAULT 0,
	flag       INTEGER NOT NULL DEFAULT 0,
	name       TEXT    NOT NULL DEFAULT '',
	usage      TEXT    NOT NULL DEFAULT '{}',
	timers     TEXT    NOT NULL DEFAULT '{}',
	created_at TEXT    NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (platform, id)
);
CREATE TABLE IF NOT EXISTS bot_groups (
	platform   TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	flag       INTEGER NOT NULL DEFAULT 0,
	assignee   TEXT    NOT NULL DEFAULT '',
	created_at TEXT    NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (platform, id)
);
`

// Open opens (creating if needed) the database file at path and ensures the
// schema exists.
func Open(ctx context.Context, path string, defaults store.Defaults) (*sqlstore.DB, error) {
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema on %s: %w", path, err)
	}
	return sqlstore.New(db, sqlstore.Question, defaults), nil
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer keeps SQLITE_BUSY out of concurrent flushes.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}
	return db, nil
}
