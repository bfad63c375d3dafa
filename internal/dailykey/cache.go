// Package dailykey caches and validates health-authority daily public keys.
package dailykey

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/and161185/venue-trace/internal/crypto/tracecrypto"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/metrics"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/repository"
	"go.uber.org/zap"
)

const (
	// MaxKeys is the number of keys retained, newest by creation time.
	MaxKeys = 20
	// MaxAge is the oldest accepted creation time relative to now.
	MaxAge = 7 * 24 * time.Hour
)

// Cache holds validated daily keys, newest first. Safe for concurrent use.
type Cache struct {
	repo repository.DailyKeyRepository
	now  func() time.Time
	log  *zap.Logger
	met  *metrics.Metrics

	mu   sync.RWMutex
	keys []model.DailyKey
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics records ingestion results.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Cache) { c.met = m } }

// NewCache loads persisted keys from repo.
func NewCache(ctx context.Context, repo repository.DailyKeyRepository, opts ...Option) (*Cache, error) {
	c := &Cache{repo: repo, now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	keys, err := repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load daily keys: %w", err)
	}
	c.keys = keys
	sortNewestFirst(c.keys)
	return c, nil
}

// SignedMessage returns keyId BE4 || createdAt BE4 || publicKey.
func SignedMessage(keyID int, createdAt time.Time, publicKey []byte) []byte {
	msg := make([]byte, 8, 8+len(publicKey))
	binary.BigEndian.PutUint32(msg[0:4], uint32(keyID))
	binary.BigEndian.PutUint32(msg[4:8], uint32(createdAt.Unix()))
	return append(msg, publicKey...)
}

// Newest returns the key with the greatest creation time.
func (c *Cache) Newest() (model.DailyKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.keys) == 0 {
		return model.DailyKey{}, false
	}
	return c.keys[0], true
}

// NewestForID returns the newest cached key with the given id.
func (c *Cache) NewestForID(id int) (model.DailyKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range c.keys {
		if k.KeyID == id {
			return k, true
		}
	}
	return model.DailyKey{}, false
}

// All returns a copy of the cached keys, newest first.
func (c *Cache) All() []model.DailyKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.DailyKey(nil), c.keys...)
}

// Ingest verifies candidate's signature against issuerKey and inserts it.
// Rejected candidates leave the cache untouched.
func (c *Cache) Ingest(ctx context.Context, candidate model.DailyKey, issuerKey *ecdsa.PublicKey) error {
	msg := SignedMessage(candidate.KeyID, candidate.CreatedAt, candidate.PublicKey)
	if !tracecrypto.Verify(issuerKey, msg, candidate.Signature) {
		c.met.DailyKey("signature_invalid")
		return fmt.Errorf("daily key %d: %w", candidate.KeyID, errs.ErrSignatureInvalid)
	}
	return c.insert(ctx, candidate)
}

func (c *Cache) insert(ctx context.Context, k model.DailyKey) error {
	if c.now().Sub(k.CreatedAt) > MaxAge {
		c.met.DailyKey("expired")
		return fmt.Errorf("daily key %d created %s: %w", k.KeyID, k.CreatedAt.UTC().Format(time.RFC3339), errs.ErrKeyExpired)
	}
	if _, err := tracecrypto.ParsePublicKey(k.PublicKey); err != nil {
		c.met.DailyKey("invalid")
		return fmt.Errorf("daily key %d: %w: %v", k.KeyID, errs.ErrInvalidArgument, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.repo.Save(ctx, k); err != nil {
		return fmt.Errorf("save daily key: %w", err)
	}
	next := make([]model.DailyKey, 0, len(c.keys)+1)
	next = append(next, k)
	for _, old := range c.keys {
		if old.KeyID == k.KeyID && old.CreatedAt.Equal(k.CreatedAt) {
			continue
		}
		next = append(next, old)
	}
	sortNewestFirst(next)

	var evictErr error
	if len(next) > MaxKeys {
		for _, old := range next[MaxKeys:] {
			if err := c.repo.Delete(ctx, old.KeyID, old.CreatedAt); err != nil {
				evictErr = errors.Join(evictErr, err)
			}
		}
		next = next[:MaxKeys:MaxKeys]
	}
	c.keys = next
	c.met.DailyKey("accepted")
	c.log.Info("daily key ingested", zap.Int("key_id", k.KeyID), zap.Time("created_at", k.CreatedAt), zap.Int("cached", len(next)))
	if evictErr != nil {
		c.log.Warn("daily key eviction incomplete", zap.Error(evictErr))
	}
	return nil
}

func sortNewestFirst(keys []model.DailyKey) {
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].KeyID > keys[j].KeyID
		}
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
}
