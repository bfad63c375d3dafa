package postgres

import (
	"context"

	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// AccessedRepo implements AccessedTraceRepository using PostgreSQL.
type AccessedRepo struct{ db *DB }

var _ repository.AccessedTraceRepository = (*AccessedRepo)(nil)

// NewAccessedRepo constructs an accessed trace id repository.
func NewAccessedRepo(db *DB) *AccessedRepo { return &AccessedRepo{db: db} }

// Upsert inserts or replaces the record of one health department.
func (r *AccessedRepo) Upsert(ctx context.Context, a model.AccessedTraceID) error {
	const q = `
INSERT INTO accessed_trace_ids (health_department_id, trace_ids, sight_date, notified_date, consumed_date)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (health_department_id) DO UPDATE
SET trace_ids=EXCLUDED.trace_ids, sight_date=EXCLUDED.sight_date,
    notified_date=EXCLUDED.notified_date, consumed_date=EXCLUDED.consumed_date`
	_, err := r.db.Pool.Exec(ctx, q, a.HealthDepartmentID, a.TraceIDs, a.SightDate, a.NotifiedDate, a.ConsumedDate)
	return err
}

// List returns all records by sight date ascending.
func (r *AccessedRepo) List(ctx context.Context) ([]model.AccessedTraceID, error) {
	const q = `
SELECT health_department_id, trace_ids, sight_date, notified_date, consumed_date
FROM accessed_trace_ids
ORDER BY sight_date ASC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AccessedTraceID
	for rows.Next() {
		var a model.AccessedTraceID
		if err = rows.Scan(&a.HealthDepartmentID, &a.TraceIDs, &a.SightDate, &a.NotifiedDate, &a.ConsumedDate); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes the record of one health department.
func (r *AccessedRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM accessed_trace_ids WHERE health_department_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id)
	return err
}
