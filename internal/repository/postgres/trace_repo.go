package postgres

import (
	"context"
	"time"

	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/repository"
)

// TraceInfoRepo implements TraceInfoRepository using PostgreSQL.
type TraceInfoRepo struct{ db *DB }

var _ repository.TraceInfoRepository = (*TraceInfoRepo)(nil)

// NewTraceInfoRepo constructs a trace info repository.
func NewTraceInfoRepo(db *DB) *TraceInfoRepo { return &TraceInfoRepo{db: db} }

// Upsert inserts or replaces a record.
func (r *TraceInfoRepo) Upsert(ctx context.Context, t model.TraceInfo) error {
	const q = `
INSERT INTO trace_infos (trace_id, checkin, checkout, location_id, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (trace_id) DO UPDATE
SET checkin=EXCLUDED.checkin, checkout=EXCLUDED.checkout,
    location_id=EXCLUDED.location_id, created_at=EXCLUDED.created_at`
	_, err := r.db.Pool.Exec(ctx, q, t.TraceID, t.CheckIn, t.CheckOut, t.LocationID, t.CreatedAt)
	return err
}

// Get selects a record by trace id.
func (r *TraceInfoRepo) Get(ctx context.Context, traceID string) (model.TraceInfo, error) {
	const q = `
SELECT trace_id, checkin, checkout, location_id, created_at
FROM trace_infos WHERE trace_id=$1`
	var t model.TraceInfo
	if err := r.db.Pool.QueryRow(ctx, q, traceID).Scan(&t.TraceID, &t.CheckIn, &t.CheckOut, &t.LocationID, &t.CreatedAt); err != nil {
		return model.TraceInfo{}, scanErr(err)
	}
	return t, nil
}

// List returns all records by check-in ascending.
func (r *TraceInfoRepo) List(ctx context.Context) ([]model.TraceInfo, error) {
	const q = `
SELECT trace_id, checkin, checkout, location_id, created_at
FROM trace_infos
ORDER BY checkin ASC, trace_id ASC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TraceInfo
	for rows.Next() {
		var t model.TraceInfo
		if err = rows.Scan(&t.TraceID, &t.CheckIn, &t.CheckOut, &t.LocationID, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes a record.
func (r *TraceInfoRepo) Delete(ctx context.Context, traceID string) error {
	const q = `DELETE FROM trace_infos WHERE trace_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, traceID)
	return err
}

// DeleteCheckedInBefore removes records with check-in before t.
func (r *TraceInfoRepo) DeleteCheckedInBefore(ctx context.Context, t time.Time) (int, error) {
	const q = `DELETE FROM trace_infos WHERE checkin < $1`
	tag, err := r.db.Pool.Exec(ctx, q, t)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// TraceCoreRepo implements TraceCoreRepository using PostgreSQL.
type TraceCoreRepo struct{ db *DB }

var _ repository.TraceCoreRepository = (*TraceCoreRepo)(nil)

// NewTraceCoreRepo constructs a trace core repository.
func NewTraceCoreRepo(db *DB) *TraceCoreRepo { return &TraceCoreRepo{db: db} }

// Add inserts a core unless it already exists.
func (r *TraceCoreRepo) Add(ctx context.Context, c model.TraceIDCore) error {
	const q = `
INSERT INTO trace_cores (ts, daily_key_id, created_at) VALUES ($1, $2, $3)
ON CONFLICT (ts, daily_key_id) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, c.Timestamp, c.DailyKeyID, c.CreatedAt)
	return err
}

// List returns all cores by creation ascending.
func (r *TraceCoreRepo) List(ctx context.Context) ([]model.TraceIDCore, error) {
	const q = `SELECT ts, daily_key_id, created_at FROM trace_cores ORDER BY created_at ASC, ts ASC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TraceIDCore
	for rows.Next() {
		var c model.TraceIDCore
		if err = rows.Scan(&c.Timestamp, &c.DailyKeyID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCreatedBefore removes cores created before t.
func (r *TraceCoreRepo) DeleteCreatedBefore(ctx context.Context, t time.Time) (int, error) {
	const q = `DELETE FROM trace_cores WHERE created_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, t)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Clear removes all cores.
func (r *TraceCoreRepo) Clear(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM trace_cores`)
	return err
}
