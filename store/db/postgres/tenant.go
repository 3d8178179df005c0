package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/parasol-ai/parasol/store"
)

// CreateTenant provisions the dedicated schema, its tables, and the tenant
// record in one transaction. Postgres DDL is transactional, so a failure at
// any point rolls the whole provisioning back.
func (d *DB) CreateTenant(ctx context.Context, create *store.Tenant) (*store.Tenant, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ddls := []string{
		fmt.Sprintf(`CREATE SCHEMA "%s"`, create.SchemaName),
		fmt.Sprintf(`CREATE TABLE "%s".document (
			id         BIGSERIAL PRIMARY KEY,
			uid        TEXT NOT NULL UNIQUE,
			title      TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL,
			created_ts BIGINT NOT NULL
		)`, create.SchemaName),
	}
	for _, ddl := range ddls {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return nil, errors.Wrap(err, "create tenant namespace")
		}
	}

	now := time.Now().Unix()
	stmt := `INSERT INTO tenant (id, name, schema_name, config, branding, plan, limits, row_status, created_ts, updated_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := tx.ExecContext(ctx, stmt,
		create.ID, create.Name, create.SchemaName,
		orJSON(create.Config), orJSON(create.Branding), create.Plan, orJSON(create.Limits),
		string(create.RowStatus), now, now,
	); err != nil {
		return nil, errors.Wrap(err, "insert tenant")
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d.getTenant(ctx, create.ID)
}

func (d *DB) ListTenants(ctx context.Context, find *store.FindTenant) ([]*store.Tenant, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, fmt.Sprintf("id = $%d", len(args)+1)), append(args, *v)
	}
	if v := find.SchemaName; v != nil {
		where, args = append(where, fmt.Sprintf("schema_name = $%d", len(args)+1)), append(args, *v)
	}
	if v := find.RowStatus; v != nil {
		where, args = append(where, fmt.Sprintf("row_status = $%d", len(args)+1)), append(args, string(*v))
	}
	query := fmt.Sprintf(`SELECT id, name, schema_name, config, branding, plan, limits, row_status, created_ts, updated_ts
		FROM tenant WHERE %s ORDER BY created_ts DESC`, strings.Join(where, " AND "))
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.Tenant
	for rows.Next() {
		t := &store.Tenant{}
		if err := rows.Scan(&t.ID, &t.Name, &t.SchemaName, &t.Config, &t.Branding, &t.Plan, &t.Limits, &t.RowStatus, &t.CreatedTs, &t.UpdatedTs); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (d *DB) getTenant(ctx context.Context, id string) (*store.Tenant, error) {
	list, err := d.ListTenants(ctx, &store.FindTenant{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Errorf("tenant %s not found", id)
	}
	return list[0], nil
}

func (d *DB) UpdateTenant(ctx context.Context, update *store.UpdateTenant) (*store.Tenant, error) {
	set, args := []string{}, []any{}
	if v := update.Name; v != nil {
		set, args = append(set, fmt.Sprintf("name = $%d", len(args)+1)), append(args, *v)
	}
	if v := update.Config; v != nil {
		set, args = append(set, fmt.Sprintf("config = $%d", len(args)+1)), append(args, *v)
	}
	if v := update.Branding; v != nil {
		set, args = append(set, fmt.Sprintf("branding = $%d", len(args)+1)), append(args, *v)
	}
	if v := update.Plan; v != nil {
		set, args = append(set, fmt.Sprintf("plan = $%d", len(args)+1)), append(args, *v)
	}
	if v := update.Limits; v != nil {
		set, args = append(set, fmt.Sprintf("limits = $%d", len(args)+1)), append(args, *v)
	}
	if v := update.RowStatus; v != nil {
		set, args = append(set, fmt.Sprintf("row_status = $%d", len(args)+1)), append(args, string(*v))
	}
	if len(set) == 0 {
		return d.getTenant(ctx, update.ID)
	}
	set, args = append(set, fmt.Sprintf("updated_ts = $%d", len(args)+1)), append(args, time.Now().Unix())
	args = append(args, update.ID)
	stmt := fmt.Sprintf("UPDATE tenant SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, err
	}
	return d.getTenant(ctx, update.ID)
}

func orJSON(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}
