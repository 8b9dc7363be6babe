package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"iepp.org/internal/directory"
)

// Documents stores directory documents in the documents table as jsonb.
type Documents struct {
	db  *sql.DB
	now func() time.Time
}

var _ directory.Store = (*Documents)(nil)

func (d *Documents) Put(ctx context.Context, collection, id string, doc directory.Document) error {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return directory.ErrInvalidKey
	}
	now := d.now().UTC()
	raw, err := directory.EncodeDocument(doc, now)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `
		insert into documents(collection, id, data, created_at, updated_at)
		values ($1, $2, $3::jsonb, $4, $4)
		on conflict (collection, id) do update
		set data = excluded.data, updated_at = excluded.updated_at
	`, collection, id, string(raw), now)
	return err
}

func (d *Documents) Get(ctx context.Context, collection, id string) (directory.Snapshot, error) {
	var raw []byte
	err := d.db.QueryRowContext(ctx, `
		select data from documents where collection = $1 and id = $2
	`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Snapshot{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Snapshot{}, err
	}
	doc, err := directory.DecodeDocument(raw)
	if err != nil {
		return directory.Snapshot{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return directory.Snapshot{ID: id, Data: doc}, nil
}

func (d *Documents) Query(ctx context.Context, collection string, filters ...directory.Filter) ([]directory.Snapshot, error) {
	query, args, err := buildQuery(collection, filters)
	if err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []directory.Snapshot
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		doc, err := directory.DecodeDocument(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
		out = append(out, directory.Snapshot{ID: id, Data: doc})
	}
	return out, rows.Err()
}

func (d *Documents) Update(ctx context.Context, collection, id string, fields directory.Document) error {
	now := d.now().UTC()
	raw, err := directory.EncodeDocument(fields, now)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx, `
		update documents set data = data || $3::jsonb, updated_at = $4
		where collection = $1 and id = $2
	`, collection, id, string(raw), now)
	if err != nil {
		return err
	}
	return requireRow(res, directory.ErrNotFound)
}

func (d *Documents) Delete(ctx context.Context, collection, id string) error {
	res, err := d.db.ExecContext(ctx, `delete from documents where collection = $1 and id = $2`, collection, id)
	if err != nil {
		return err
	}
	return requireRow(res, directory.ErrNotFound)
}

func (d *Documents) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// buildQuery renders an equality query. Field names and values are bound as
// parameters; values compare as jsonb.
func buildQuery(collection string, filters []directory.Filter) (string, []any, error) {
	var b strings.Builder
	b.WriteString(`select id, data from documents where collection = $1`)
	args := []any{collection}
	for _, f := range filters {
		if err := directory.CheckField(f.Field); err != nil {
			return "", nil, err
		}
		val, err := directory.EncodeValue(f.Value)
		if err != nil {
			return "", nil, err
		}
		args = append(args, f.Field, string(val))
		fmt.Fprintf(&b, ` and data -> $%d = $%d::jsonb`, len(args)-1, len(args))
	}
	b.WriteString(` order by id`)
	return b.String(), args, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
