// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/venue-trace/internal/model"
	"github.com/gofrs/uuid/v5"
)

// KeyValueRepository stores opaque blobs by key. Used for key material.
type KeyValueRepository interface {
	// Restore loads the value for key or returns errs.ErrNotFound.
	Restore(ctx context.Context, key string) ([]byte, error)
	// Store inserts or replaces the value for key.
	Store(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Keys lists stored keys with the given prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// TraceInfoRepository persists check-in episodes.
type TraceInfoRepository interface {
	// Upsert inserts or replaces the record with the same trace id.
	Upsert(ctx context.Context, info model.TraceInfo) error
	// Get loads a record by trace id or returns errs.ErrNotFound.
	Get(ctx context.Context, traceID string) (model.TraceInfo, error)
	// List returns all records ordered by check-in ascending.
	List(ctx context.Context) ([]model.TraceInfo, error)
	// Delete removes a record by trace id.
	Delete(ctx context.Context, traceID string) error
	// DeleteCheckedInBefore removes records with check-in strictly before t.
	DeleteCheckedInBefore(ctx context.Context, t time.Time) (int, error)
}

// TraceCoreRepository persists not-yet-confirmed trace cores.
type TraceCoreRepository interface {
	// Add stores a core. Adding an existing {timestamp, dailyKeyID} is a no-op.
	Add(ctx context.Context, core model.TraceIDCore) error
	// List returns all cores ordered by creation ascending.
	List(ctx context.Context) ([]model.TraceIDCore, error)
	// DeleteCreatedBefore removes cores created strictly before t.
	DeleteCreatedBefore(ctx context.Context, t time.Time) (int, error)
	// Clear removes all cores.
	Clear(ctx context.Context) error
}

// DailyKeyRepository persists validated daily keys.
type DailyKeyRepository interface {
	// Save inserts or replaces the key identified by {keyID, createdAt}.
	Save(ctx context.Context, key model.DailyKey) error
	// List returns all keys ordered by creation descending.
	List(ctx context.Context) ([]model.DailyKey, error)
	// Delete removes the key identified by {keyID, createdAt}.
	Delete(ctx context.Context, keyID int, createdAt time.Time) error
}

// AccessedTraceRepository persists confirmed third-party accesses.
type AccessedTraceRepository interface {
	// Upsert inserts or replaces the record of one health department.
	Upsert(ctx context.Context, a model.AccessedTraceID) error
	// List returns all records ordered by sight date ascending.
	List(ctx context.Context) ([]model.AccessedTraceID, error)
	// Delete removes the record of one health department.
	Delete(ctx context.Context, healthDepartmentID uuid.UUID) error
}
