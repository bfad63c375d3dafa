package postgres

import (
	"context"

	"github.com/and161185/venue-trace/internal/repository"
)

// KVRepo implements KeyValueRepository on the key_material table.
type KVRepo struct{ db *DB }

var _ repository.KeyValueRepository = (*KVRepo)(nil)

// NewKVRepo constructs a key-value repository.
func NewKVRepo(db *DB) *KVRepo { return &KVRepo{db: db} }

// Restore selects the value for key.
func (r *KVRepo) Restore(ctx context.Context, key string) ([]byte, error) {
	const q = `SELECT v FROM key_material WHERE k=$1`
	var v []byte
	if err := r.db.Pool.QueryRow(ctx, q, key).Scan(&v); err != nil {
		return nil, scanErr(err)
	}
	return v, nil
}

// Store upserts the value for key.
func (r *KVRepo) Store(ctx context.Context, key string, value []byte) error {
	const q = `
INSERT INTO key_material (k, v, updated_at) VALUES ($1, $2, now())
ON CONFLICT (k) DO UPDATE SET v=EXCLUDED.v, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, key, value)
	return err
}

// Remove deletes key.
func (r *KVRepo) Remove(ctx context.Context, key string) error {
	const q = `DELETE FROM key_material WHERE k=$1`
	_, err := r.db.Pool.Exec(ctx, q, key)
	return err
}

// Keys lists keys starting with prefix.
func (r *KVRepo) Keys(ctx context.Context, prefix string) ([]string, error) {
	const q = `SELECT k FROM key_material WHERE starts_with(k, $1) ORDER BY k ASC`
	rows, err := r.db.Pool.Query(ctx, q, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err = rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
