// Package postgres implements the store driver on lib/pq.
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/parasol-ai/parasol/internal/profile"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (*DB, error) {
	pgDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres db")
	}
	return &DB{db: pgDB, profile: profile}, nil
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
			created_ts  BIGINT NOT NULL,
			updated_ts  BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_record (
			id            BIGSERIAL PRIMARY KEY,
			tenant_id     TEXT NOT NULL,
			run_id        TEXT NOT NULL,
			model         TEXT NOT NULL,
			input_tokens  INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			created_ts    BIGINT NOT NULL
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
