package queries

import (
	"context"
	"strings"
)

const getKV = `SELECT value FROM kv_store WHERE key = $1`

func (q *Queries) GetKV(ctx context.Context, key string) ([]byte, error) {
	row := q.db.QueryRow(ctx, getKV, key)
	var value []byte
	err := row.Scan(&value)
	return value, err
}

const upsertKV = `
INSERT INTO kv_store (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

type UpsertKVParams struct {
	Key   string
	Value []byte
}

func (q *Queries) UpsertKV(ctx context.Context, arg UpsertKVParams) error {
	_, err := q.db.Exec(ctx, upsertKV, arg.Key, arg.Value)
	return err
}

const deleteKV = `DELETE FROM kv_store WHERE key = $1`

func (q *Queries) DeleteKV(ctx context.Context, key string) error {
	_, err := q.db.Exec(ctx, deleteKV, key)
	return err
}

const listKVKeys = `SELECT key FROM kv_store WHERE key LIKE $1 ESCAPE '\' ORDER BY key`

func (q *Queries) ListKVKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := q.db.Query(ctx, listKVKeys, likePrefix(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		items = append(items, key)
	}
	return items, rows.Err()
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
