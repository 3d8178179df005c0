package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/parasol-ai/parasol/store"
)

func (d *DB) CreateDocument(ctx context.Context, tenant *store.Tenant, create *store.Document) (*store.Document, error) {
	now := time.Now().Unix()
	stmt := fmt.Sprintf("INSERT INTO `%s_document` (`uid`, `title`, `content`, `created_ts`) VALUES (?, ?, ?, ?)", tenant.SchemaName)
	result, err := d.db.ExecContext(ctx, stmt, create.UID, create.Title, create.Content, now)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	doc := *create
	doc.ID = id
	doc.CreatedTs = now
	return &doc, nil
}

func (d *DB) ListDocuments(ctx context.Context, tenant *store.Tenant, find *store.FindDocument) ([]*store.Document, error) {
	query := fmt.Sprintf("SELECT `id`, `uid`, `title`, `content`, `created_ts` FROM `%s_document`", tenant.SchemaName)
	args := []any{}
	if v := find.UID; v != nil {
		query += " WHERE `uid` = ?"
		args = append(args, *v)
	}
	query += " ORDER BY `id` ASC"
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.Document
	for rows.Next() {
		doc := &store.Document{}
		if err := rows.Scan(&doc.ID, &doc.UID, &doc.Title, &doc.Content, &doc.CreatedTs); err != nil {
			return nil, err
		}
		list = append(list, doc)
	}
	return list, rows.Err()
}
