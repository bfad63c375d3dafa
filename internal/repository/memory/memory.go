// Package memory contains in-process implementations of repository interfaces.
// All types are safe for concurrent use.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/repository"
	"github.com/gofrs/uuid/v5"
)

var (
	_ repository.KeyValueRepository      = (*KV)(nil)
	_ repository.TraceInfoRepository     = (*TraceInfos)(nil)
	_ repository.TraceCoreRepository     = (*TraceCores)(nil)
	_ repository.DailyKeyRepository      = (*DailyKeys)(nil)
	_ repository.AccessedTraceRepository = (*AccessedTraces)(nil)
)

// KV is a map-backed key-value repository.
type KV struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewKV constructs an empty KV.
func NewKV() *KV { return &KV{m: map[string][]byte{}} }

func (r *KV) Restore(_ context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.m[key]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return slices.Clone(v), nil
}

func (r *KV) Store(_ context.Context, key string, value []byte) error {
	r.mu.Lock()
	r.m[key] = slices.Clone(value)
	r.mu.Unlock()
	return nil
}

func (r *KV) Remove(_ context.Context, key string) error {
	r.mu.Lock()
	delete(r.m, key)
	r.mu.Unlock()
	return nil
}

func (r *KV) Keys(_ context.Context, prefix string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for k := range r.m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// TraceInfos is a map-backed trace info repository.
type TraceInfos struct {
	mu sync.RWMutex
	m  map[string]model.TraceInfo
}

// NewTraceInfos constructs an empty repository.
func NewTraceInfos() *TraceInfos { return &TraceInfos{m: map[string]model.TraceInfo{}} }

func (r *TraceInfos) Upsert(_ context.Context, info model.TraceInfo) error {
	r.mu.Lock()
	r.m[info.TraceID] = info
	r.mu.Unlock()
	return nil
}

func (r *TraceInfos) Get(_ context.Context, traceID string) (model.TraceInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.m[traceID]
	if !ok {
		return model.TraceInfo{}, errs.ErrNotFound
	}
	return v, nil
}

func (r *TraceInfos) List(_ context.Context) ([]model.TraceInfo, error) {
	r.mu.RLock()
	out := make([]model.TraceInfo, 0, len(r.m))
	for _, v := range r.m {
		out = append(out, v)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CheckIn.Equal(out[j].CheckIn) {
			return out[i].TraceID < out[j].TraceID
		}
		return out[i].CheckIn.Before(out[j].CheckIn)
	})
	return out, nil
}

func (r *TraceInfos) Delete(_ context.Context, traceID string) error {
	r.mu.Lock()
	delete(r.m, traceID)
	r.mu.Unlock()
	return nil
}

func (r *TraceInfos) DeleteCheckedInBefore(_ context.Context, t time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, v := range r.m {
		if v.CheckIn.Before(t) {
			delete(r.m, k)
			n++
		}
	}
	return n, nil
}

// TraceCores is a map-backed trace core repository.
type TraceCores struct {
	mu sync.RWMutex
	m  map[model.CoreKey]model.TraceIDCore
}

// NewTraceCores constructs an empty repository.
func NewTraceCores() *TraceCores { return &TraceCores{m: map[model.CoreKey]model.TraceIDCore{}} }

func (r *TraceCores) Add(_ context.Context, core model.TraceIDCore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[core.Key()]; !ok {
		r.m[core.Key()] = core
	}
	return nil
}

func (r *TraceCores) List(_ context.Context) ([]model.TraceIDCore, error) {
	r.mu.RLock()
	out := make([]model.TraceIDCore, 0, len(r.m))
	for _, v := range r.m {
		out = append(out, v)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *TraceCores) DeleteCreatedBefore(_ context.Context, t time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, v := range r.m {
		if v.CreatedAt.Before(t) {
			delete(r.m, k)
			n++
		}
	}
	return n, nil
}

func (r *TraceCores) Clear(_ context.Context) error {
	r.mu.Lock()
	clear(r.m)
	r.mu.Unlock()
	return nil
}

type dailyKeyID struct {
	id int
	at int64
}

// DailyKeys is a map-backed daily key repository.
type DailyKeys struct {
	mu sync.RWMutex
	m  map[dailyKeyID]model.DailyKey
}

// NewDailyKeys constructs an empty repository.
func NewDailyKeys() *DailyKeys { return &DailyKeys{m: map[dailyKeyID]model.DailyKey{}} }

func (r *DailyKeys) Save(_ context.Context, key model.DailyKey) error {
	r.mu.Lock()
	r.m[dailyKeyID{key.KeyID, key.CreatedAt.Unix()}] = key
	r.mu.Unlock()
	return nil
}

func (r *DailyKeys) List(_ context.Context) ([]model.DailyKey, error) {
	r.mu.RLock()
	out := make([]model.DailyKey, 0, len(r.m))
	for _, v := range r.m {
		out = append(out, v)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].KeyID > out[j].KeyID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *DailyKeys) Delete(_ context.Context, keyID int, createdAt time.Time) error {
	r.mu.Lock()
	delete(r.m, dailyKeyID{keyID, createdAt.Unix()})
	r.mu.Unlock()
	return nil
}

// AccessedTraces is a map-backed accessed trace id repository.
type AccessedTraces struct {
	mu sync.RWMutex
	m  map[uuid.UUID]model.AccessedTraceID
}

// NewAccessedTraces constructs an empty repository.
func NewAccessedTraces() *AccessedTraces {
	return &AccessedTraces{m: map[uuid.UUID]model.AccessedTraceID{}}
}

func (r *AccessedTraces) Upsert(_ context.Context, a model.AccessedTraceID) error {
	a.TraceIDs = slices.Clone(a.TraceIDs)
	r.mu.Lock()
	r.m[a.HealthDepartmentID] = a
	r.mu.Unlock()
	return nil
}

func (r *AccessedTraces) List(_ context.Context) ([]model.AccessedTraceID, error) {
	r.mu.RLock()
	out := make([]model.AccessedTraceID, 0, len(r.m))
	for _, v := range r.m {
		v.TraceIDs = slices.Clone(v.TraceIDs)
		out = append(out, v)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SightDate.Before(out[j].SightDate) })
	return out, nil
}

func (r *AccessedTraces) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	delete(r.m, id)
	r.mu.Unlock()
	return nil
}
