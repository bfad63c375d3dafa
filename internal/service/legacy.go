package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/repository"
)

// LegacyKey holds the single-document store of earlier releases.
const LegacyKey = "legacy_preferences"

// legacyPreferences is the document layout of earlier releases.
type legacyPreferences struct {
	TraceInfos []model.TraceInfo       `json:"traceInfos"`
	TraceCores []legacyCore            `json:"traceIdCores"`
	Accessed   []model.AccessedTraceID `json:"accessedTraceIds"`
}

type legacyCore struct {
	Timestamp  int64 `json:"timestamp"`
	DailyKeyID int   `json:"keyId"`
	CreatedAt  int64 `json:"createdAt"` // unix millis
}

// LegacyTargets are the repositories legacy records move into.
type LegacyTargets struct {
	Infos    repository.TraceInfoRepository
	Cores    repository.TraceCoreRepository
	Accessed repository.AccessedTraceRepository
}

// MigrateLegacy moves the legacy document into the repositories and removes
// it. It reports false when there was nothing to migrate. A failed run leaves
// the document in place so the next start retries it.
func MigrateLegacy(ctx context.Context, kv repository.KeyValueRepository, to LegacyTargets) (bool, error) {
	raw, err := kv.Restore(ctx, LegacyKey)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read legacy document: %w", err)
	}

	var doc legacyPreferences
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, fmt.Errorf("%w: legacy document: %v", errs.ErrEncodingFailed, err)
	}

	for _, info := range doc.TraceInfos {
		if info.TraceID == "" {
			continue
		}
		if err := to.Infos.Upsert(ctx, info); err != nil {
			return false, fmt.Errorf("migrate trace info: %w", err)
		}
	}
	for _, c := range doc.TraceCores {
		core := model.TraceIDCore{Timestamp: c.Timestamp, DailyKeyID: c.DailyKeyID, CreatedAt: unixMilli(c.CreatedAt)}
		if err := to.Cores.Add(ctx, core); err != nil {
			return false, fmt.Errorf("migrate trace core: %w", err)
		}
	}
	if to.Accessed != nil {
		for _, a := range doc.Accessed {
			if err := to.Accessed.Upsert(ctx, a); err != nil {
				return false, fmt.Errorf("migrate accessed: %w", err)
			}
		}
	}

	if err := kv.Remove(ctx, LegacyKey); err != nil {
		return false, fmt.Errorf("remove legacy document: %w", err)
	}
	return true, nil
}

func unixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
