package mysql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/parasol-ai/parasol/store"
)

// CreateTenant provisions the tenant record and namespace. MySQL DDL commits
// implicitly, so the record insert cannot share a transaction with the
// namespace creation; instead the record is written first and compensated
// (deleted) if the namespace cannot be created.
func (d *DB) CreateTenant(ctx context.Context, create *store.Tenant) (*store.Tenant, error) {
	now := time.Now().Unix()
	stmt := "INSERT INTO `tenant` (`id`, `name`, `schema_name`, `config`, `branding`, `plan`, `limits`, `row_status`, `created_ts`, `updated_ts`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.Name, create.SchemaName,
		orJSON(create.Config), orJSON(create.Branding), create.Plan, orJSON(create.Limits),
		string(create.RowStatus), now, now,
	); err != nil {
		return nil, errors.Wrap(err, "insert tenant")
	}

	ddl := fmt.Sprintf("CREATE TABLE `%s_document` ("+
		"`id` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY, "+
		"`uid` VARCHAR(64) NOT NULL UNIQUE, "+
		"`title` VARCHAR(512) NOT NULL DEFAULT '', "+
		"`content` LONGTEXT NOT NULL, "+
		"`created_ts` BIGINT NOT NULL)", create.SchemaName)
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		// Compensating rollback: never leave a record without its namespace.
		if _, delErr := d.db.ExecContext(ctx, "DELETE FROM `tenant` WHERE `id` = ?", create.ID); delErr != nil {
			slog.Error("tenant compensation failed, record left without namespace",
				"tenant_id", create.ID, "err", delErr)
		}
		return nil, errors.Wrap(err, "create tenant namespace")
	}
	return d.getTenant(ctx, create.ID)
}

func (d *DB) ListTenants(ctx context.Context, find *store.FindTenant) ([]*store.Tenant, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "`id` = ?"), append(args, *v)
	}
	if v := find.SchemaName; v != nil {
		where, args = append(where, "`schema_name` = ?"), append(args, *v)
	}
	if v := find.RowStatus; v != nil {
		where, args = append(where, "`row_status` = ?"), append(args, string(*v))
	}
	query := fmt.Sprintf("SELECT `id`, `name`, `schema_name`, `config`, `branding`, `plan`, `limits`, `row_status`, `created_ts`, `updated_ts` FROM `tenant` WHERE %s ORDER BY `created_ts` DESC",
		strings.Join(where, " AND "))
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
		set, args = append(set, "`name` = ?"), append(args, *v)
	}
	if v := update.Config; v != nil {
		set, args = append(set, "`config` = ?"), append(args, *v)
	}
	if v := update.Branding; v != nil {
		set, args = append(set, "`branding` = ?"), append(args, *v)
	}
	if v := update.Plan; v != nil {
		set, args = append(set, "`plan` = ?"), append(args, *v)
	}
	if v := update.Limits; v != nil {
		set, args = append(set, "`limits` = ?"), append(args, *v)
	}
	if v := update.RowStatus; v != nil {
		set, args = append(set, "`row_status` = ?"), append(args, string(*v))
	}
	if len(set) == 0 {
		return d.getTenant(ctx, update.ID)
	}
	set, args = append(set, "`updated_ts` = ?"), append(args, time.Now().Unix())
	args = append(args, update.ID)
	stmt := fmt.Sprintf("UPDATE `tenant` SET %s WHERE `id` = ?", strings.Join(set, ", "))
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
