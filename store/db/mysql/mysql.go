// Package mysql implements the store driver on go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/parasol-ai/parasol/internal/profile"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (*DB, error) {
	mysqlDB, err := sql.Open("mysql", profile.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "open mysql db")
	}
	return &DB{db: mysqlDB, profile: profile}, nil
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
			id          VARCHAR(64) NOT NULL PRIMARY KEY,
			name        VARCHAR(256) NOT NULL,
			schema_name VARCHAR(128) NOT NULL UNIQUE,
			config      TEXT NOT NULL,
			branding    TEXT NOT NULL,
			plan        VARCHAR(64) NOT NULL DEFAULT 'free',
			limits      TEXT NOT NULL,
			row_status  VARCHAR(16) NOT NULL DEFAULT 'NORMAL',
			created_ts  BIGINT NOT NULL,
			updated_ts  BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_record (
			id            BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			tenant_id     VARCHAR(64) NOT NULL,
			run_id        VARCHAR(64) NOT NULL,
			model         VARCHAR(128) NOT NULL,
			input_tokens  INT NOT NULL DEFAULT 0,
			output_tokens INT NOT NULL DEFAULT 0,
			created_ts    BIGINT NOT NULL,
			INDEX idx_usage_record_tenant (tenant_id, created_ts)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}
