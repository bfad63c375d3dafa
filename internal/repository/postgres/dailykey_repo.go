package postgres

import (
	"context"
	"time"

	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/repository"
)

// DailyKeyRepo implements DailyKeyRepository using PostgreSQL.
type DailyKeyRepo struct{ db *DB }

var _ repository.DailyKeyRepository = (*DailyKeyRepo)(nil)

// NewDailyKeyRepo constructs a daily key repository.
func NewDailyKeyRepo(db *DB) *DailyKeyRepo { return &DailyKeyRepo{db: db} }

// Save upserts a key identified by {key_id, created_at}.
func (r *DailyKeyRepo) Save(ctx context.Context, k model.DailyKey) error {
	const q = `
INSERT INTO daily_keys (key_id, created_at, issuer_id, public_key, signature, signed_token)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (key_id, created_at) DO UPDATE
SET issuer_id=EXCLUDED.issuer_id, public_key=EXCLUDED.public_key,
    signature=EXCLUDED.signature, signed_token=EXCLUDED.signed_token`
	_, err := r.db.Pool.Exec(ctx, q, k.KeyID, k.CreatedAt, k.IssuerID, k.PublicKey, k.Signature, k.SignedToken)
	return err
}

// List returns keys newest first.
func (r *DailyKeyRepo) List(ctx context.Context) ([]model.DailyKey, error) {
	const q = `
SELECT key_id, created_at, issuer_id, public_key, signature, signed_token
FROM daily_keys
ORDER BY created_at DESC, key_id DESC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DailyKey
	for rows.Next() {
		var k model.DailyKey
		if err = rows.Scan(&k.KeyID, &k.CreatedAt, &k.IssuerID, &k.PublicKey, &k.Signature, &k.SignedToken); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Delete removes one key.
func (r *DailyKeyRepo) Delete(ctx context.Context, keyID int, createdAt time.Time) error {
	const q = `DELETE FROM daily_keys WHERE key_id=$1 AND created_at=$2`
	_, err := r.db.Pool.Exec(ctx, q, keyID, createdAt)
	return err
}
