// Package traceid derives trace identifiers and caches them per trace core.
package traceid

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/venue-trace/internal/crypto/tracecrypto"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Derive returns HMAC-SHA256(secret, userID || BE32(ts))[:16] paired with the
// check-in time ts.
func Derive(secret []byte, userID uuid.UUID, ts int64) model.TraceID {
	var be [4]byte
	binary.BigEndian.PutUint32(be[:], uint32(ts))
	mac := tracecrypto.HMAC(secret, userID.Bytes(), be[:])

	id := model.TraceID{CheckIn: time.Unix(ts, 0).UTC()}
	copy(id.ID[:], mac[:model.TraceIDLen])
	return id
}

// MinuteTimestamp returns t in unix seconds rounded down to the minute.
func MinuteTimestamp(t time.Time) int64 {
	s := t.Unix()
	return s - s%60
}

// HashForHealthDepartment returns base64(HMAC-SHA256(hdID, traceID)[:16]) for
// a base64 trace id, the form in which accesses are published.
func HashForHealthDepartment(traceID string, hdID uuid.UUID) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(traceID)
	if err != nil {
		return "", fmt.Errorf("trace id: %w", err)
	}
	mac := tracecrypto.HMAC(hdID.Bytes(), raw)
	return base64.StdEncoding.EncodeToString(mac[:model.TraceIDLen]), nil
}

type entry struct {
	id        model.TraceID
	createdAt time.Time
}

// Cache maps trace cores to derived ids so QR rebuilds within an epoch reuse
// the same id. Safe for concurrent use.
type Cache struct {
	mu sync.Mutex
	m  map[model.CoreKey]entry
}

// NewCache constructs an empty cache.
func NewCache() *Cache { return &Cache{m: map[model.CoreKey]entry{}} }

// Get returns the cached id of key.
func (c *Cache) Get(key model.CoreKey) (model.TraceID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	return e.id, ok
}

// GetOrDerive returns the cached id of core or stores the result of derive.
func (c *Cache) GetOrDerive(core model.TraceIDCore, derive func() (model.TraceID, error)) (model.TraceID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[core.Key()]; ok {
		return e.id, nil
	}
	id, err := derive()
	if err != nil {
		return model.TraceID{}, err
	}
	c.m[core.Key()] = entry{id: id, createdAt: core.CreatedAt}
	return id, nil
}

// Evict drops entries whose core was created before t.
func (c *Cache) Evict(before time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.m {
		if e.createdAt.Before(before) {
			delete(c.m, k)
			n++
		}
	}
	return n
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	clear(c.m)
	c.mu.Unlock()
}

// Len returns the number of cached ids.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
