// Package sqlite implements the store driver on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/parasol-ai/parasol/internal/profile"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens (or creates) the sqlite database at profile.DSN.
func NewDB(profile *profile.Profile) (*DB, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}
	dsn := profile.DSN
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	sqliteDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite db %s", profile.DSN)
	}
	return &DB{db: sqliteDB, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tenant (
			id          TEXT NOT NULL PRIMARY KEY,
			name        TEXT NOT NULL,
			schema_name TEXT NOT NULL UNIQUE,
			config      TEXT NOT NULL DEFAULT '{}',
			branding    TEXT NOT NULL DEFAULT '{}',
			plan        TEXT NOT NULL DEFAULT 'free',
			limits      TEXT NOT NULL DEFAULT '{}',
			row_status  TEXT NOT NULL DEFAULT 'NORMAL',
			created_ts  BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
			updated_ts  BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
		)`,
		`CREATE TABLE IF NOT EXISTS usage_record (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id     TEXT NOT NULL,
			run_id        TEXT NOT NULL,
			model         TEXT NOT NULL,
			input_tokens  INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			created_ts    BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_record_tenant ON usage_record(tenant_id, created_ts)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}
