package mysql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parasol-ai/parasol/store"
)

func (d *DB) CreateUsageRecord(ctx context.Context, create *store.UsageRecord) (*store.UsageRecord, error) {
	now := time.Now().Unix()
	stmt := "INSERT INTO `usage_record` (`tenant_id`, `run_id`, `model`, `input_tokens`, `output_tokens`, `created_ts`) VALUES (?, ?, ?, ?, ?, ?)"
	result, err := d.db.ExecContext(ctx, stmt, create.TenantID, create.RunID, create.Model, create.InputTokens, create.OutputTokens, now)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	record := *create
	record.ID = id
	record.CreatedTs = now
	return &record, nil
}

func usageWhere(find *store.FindUsageRecord) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.TenantID; v != nil {
		where, args = append(where, "`tenant_id` = ?"), append(args, *v)
	}
	if v := find.RunID; v != nil {
		where, args = append(where, "`run_id` = ?"), append(args, *v)
	}
	if v := find.Model; v != nil {
		where, args = append(where, "`model` = ?"), append(args, *v)
	}
	if v := find.Since; v != nil {
		where, args = append(where, "`created_ts` >= ?"), append(args, *v)
	}
	if v := find.Until; v != nil {
		where, args = append(where, "`created_ts` <= ?"), append(args, *v)
	}
	return where, args
}

func (d *DB) ListUsageRecords(ctx context.Context, find *store.FindUsageRecord) ([]*store.UsageRecord, error) {
	where, args := usageWhere(find)
	query := fmt.Sprintf("SELECT `id`, `tenant_id`, `run_id`, `model`, `input_tokens`, `output_tokens`, `created_ts` FROM `usage_record` WHERE %s ORDER BY `id` ASC",
		strings.Join(where, " AND "))
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.UsageRecord
	for rows.Next() {
		r := &store.UsageRecord{}
		if err := rows.Scan(&r.ID, &r.TenantID, &r.RunID, &r.Model, &r.InputTokens, &r.OutputTokens, &r.CreatedTs); err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

func (d *DB) SummarizeUsage(ctx context.Context, find *store.FindUsageRecord) ([]*store.UsageSummary, error) {
	where, args := usageWhere(find)
	query := fmt.Sprintf("SELECT `tenant_id`, `model`, COUNT(*), SUM(`input_tokens`), SUM(`output_tokens`) FROM `usage_record` WHERE %s GROUP BY `tenant_id`, `model` ORDER BY `tenant_id`, `model`",
		strings.Join(where, " AND "))
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.UsageSummary
	for rows.Next() {
		s := &store.UsageSummary{}
		if err := rows.Scan(&s.TenantID, &s.Model, &s.Invocations, &s.InputTokens, &s.OutputTokens); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
