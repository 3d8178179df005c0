package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/parasol-ai/parasol/store"
)

func (d *DB) CreateDocument(ctx context.Context, tenant *store.Tenant, create *store.Document) (*store.Document, error) {
	now := time.Now().Unix()
	stmt := fmt.Sprintf(`INSERT INTO "%s".document (uid, title, content, created_ts) VALUES ($1, $2, $3, $4) RETURNING id`, tenant.SchemaName)
	var id int64
	if err := d.db.QueryRowContext(ctx, stmt, create.UID, create.Title, create.Content, now).Scan(&id); err != nil {
		return nil, err
	}
	doc := *create
	doc.ID = id
	doc.CreatedTs = now
	return &doc, nil
}

func (d *DB) ListDocuments(ctx context.Context, tenant *store.Tenant, find *store.FindDocument) ([]*store.Document, error) {
	query := fmt.Sprintf(`SELECT id, uid, title, content, created_ts FROM "%s".document`, tenant.SchemaName)
	args := []any{}
	if v := find.UID; v != nil {
		query += " WHERE uid = $1"
		args = append(args, *v)
	}
	query += " ORDER BY id ASC"
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
