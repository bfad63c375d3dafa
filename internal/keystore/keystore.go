// Package keystore owns all private key material of the device: the long-term
// identity, per-day trace secrets and per-day ephemeral ECDH keypairs.
package keystore

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/and161185/venue-trace/internal/crypto/tracecrypto"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

const (
	identityKey       = "identity"
	traceSecretPrefix = "trace_secret/"
	ephemeralPrefix   = "ephemeral/"
	dayLayout         = "2006-01-02"
	day               = 24 * time.Hour
)

// Retention is how long per-day key material is kept.
const Retention = 28 * day

// Store is the key material store. Safe for concurrent use.
type Store struct {
	kv   repository.KeyValueRepository
	rand io.Reader
	log  *zap.Logger

	// serializes generate-if-absent sequences
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithRand overrides the entropy source.
func WithRand(r io.Reader) Option { return func(s *Store) { s.rand = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// New constructs a Store over kv. kv is expected to seal values at rest.
func New(kv repository.KeyValueRepository, opts ...Option) *Store {
	s := &Store{kv: kv, rand: rand.Reader, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// DayIndex returns the unix seconds of the UTC day start containing t.
func DayIndex(t time.Time) int64 {
	return t.UTC().Truncate(day).Unix()
}

// TraceSecret returns the secret of the UTC calendar day of date, generating
// and persisting it when absent.
func (s *Store) TraceSecret(ctx context.Context, date time.Time) ([]byte, error) {
	key := traceSecretKey(date)

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.kv.Restore(ctx, key)
	switch {
	case err == nil:
		return v, nil
	case !errors.Is(err, errs.ErrNotFound):
		return nil, fmt.Errorf("%w: restore trace secret: %w", errs.ErrKeyUnavailable, err)
	}

	secret, err := tracecrypto.Rand(s.rand, tracecrypto.SecretLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrKeyUnavailable, err)
	}
	if err := s.kv.Store(ctx, key, secret); err != nil {
		return nil, fmt.Errorf("%w: store trace secret: %w", errs.ErrKeyUnavailable, err)
	}
	s.log.Debug("trace secret created", zap.String("day", date.UTC().Format(dayLayout)))
	return secret, nil
}

// RecentTraceSecrets returns the stored secrets of the last days calendar days
// up to and including now, oldest first. Missing days are skipped.
func (s *Store) RecentTraceSecrets(ctx context.Context, now time.Time, days int) ([]model.TraceSecret, error) {
	start := time.Unix(DayIndex(now), 0).UTC()
	out := make([]model.TraceSecret, 0, days)
	for i := days - 1; i >= 0; i-- {
		d := start.Add(-time.Duration(i) * day)
		v, err := s.kv.Restore(ctx, traceSecretKey(d))
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, model.TraceSecret{Day: d, Secret: v})
	}
	return out, nil
}

// EnsureEphemeralKeyPair creates the keypair of dayIndex unless one exists.
func (s *Store) EnsureEphemeralKeyPair(ctx context.Context, dayIndex int64) error {
	key := ephemeralKey(dayIndex)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.kv.Restore(ctx, key)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, errs.ErrNotFound):
		return fmt.Errorf("%w: %w", errs.ErrKeyGenerationFailed, err)
	}

	priv, err := tracecrypto.GenerateKeyPair(s.rand)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrKeyGenerationFailed, err)
	}
	if err := s.kv.Store(ctx, key, priv.Bytes()); err != nil {
		return fmt.Errorf("%w: store: %w", errs.ErrKeyGenerationFailed, err)
	}
	s.log.Debug("ephemeral keypair created", zap.Int64("day_index", dayIndex))
	return nil
}

// EphemeralPrivateKey returns the private half of the keypair of dayIndex.
func (s *Store) EphemeralPrivateKey(ctx context.Context, dayIndex int64) (*ecdh.PrivateKey, error) {
	v, err := s.kv.Restore(ctx, ephemeralKey(dayIndex))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("%w: ephemeral key of day %d", errs.ErrKeyNotFound, dayIndex)
	}
	if err != nil {
		return nil, err
	}
	priv, err := tracecrypto.ParsePrivateKey(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrKeyNotFound, err)
	}
	return priv, nil
}

// EphemeralPublicKey returns the public half of the keypair of dayIndex.
func (s *Store) EphemeralPublicKey(ctx context.Context, dayIndex int64) (*ecdh.PublicKey, error) {
	priv, err := s.EphemeralPrivateKey(ctx, dayIndex)
	if err != nil {
		return nil, err
	}
	return priv.PublicKey(), nil
}

type identityRecord struct {
	UserID     uuid.UUID `json:"userId"`
	SigningKey []byte    `json:"signingKey"` // PKCS#8
	DataSecret []byte    `json:"dataSecret"`
}

// Identity returns the stored user identity.
func (s *Store) Identity(ctx context.Context) (model.UserIdentity, error) {
	v, err := s.kv.Restore(ctx, identityKey)
	if errors.Is(err, errs.ErrNotFound) {
		return model.UserIdentity{}, errs.ErrIdentityMissing
	}
	if err != nil {
		return model.UserIdentity{}, err
	}
	var rec identityRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return model.UserIdentity{}, fmt.Errorf("%w: decode: %w", errs.ErrIdentityMissing, err)
	}
	key, err := tracecrypto.ParseSigningKey(rec.SigningKey)
	if err != nil {
		return model.UserIdentity{}, fmt.Errorf("%w: signing key: %w", errs.ErrIdentityMissing, err)
	}
	return model.UserIdentity{UserID: rec.UserID, SigningKey: key, DataSecret: rec.DataSecret}, nil
}

// CreateIdentity generates a fresh signing key and data secret, replacing any
// stored identity. The user id stays Nil until SetUserID.
func (s *Store) CreateIdentity(ctx context.Context) (model.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := tracecrypto.GenerateSigningKey(s.rand)
	if err != nil {
		return model.UserIdentity{}, fmt.Errorf("%w: %w", errs.ErrKeyGenerationFailed, err)
	}
	secret, err := tracecrypto.Rand(s.rand, tracecrypto.SecretLen)
	if err != nil {
		return model.UserIdentity{}, fmt.Errorf("%w: %w", errs.ErrKeyUnavailable, err)
	}
	id := model.UserIdentity{SigningKey: key, DataSecret: secret}
	if err := s.saveIdentity(ctx, id); err != nil {
		return model.UserIdentity{}, err
	}
	return id, nil
}

// SetUserID records the backend-assigned user id.
func (s *Store) SetUserID(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.Identity(ctx)
	if err != nil {
		return err
	}
	id.UserID = userID
	return s.saveIdentity(ctx, id)
}

func (s *Store) saveIdentity(ctx context.Context, id model.UserIdentity) error {
	der, err := tracecrypto.MarshalSigningKey(id.SigningKey)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrKeyGenerationFailed, err)
	}
	b, err := json.Marshal(identityRecord{UserID: id.UserID, SigningKey: der, DataSecret: id.DataSecret})
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrEncodingFailed, err)
	}
	return s.kv.Store(ctx, identityKey, b)
}

// Prune removes trace secrets and ephemeral keypairs of days before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	limit := DayIndex(cutoff)
	n := 0

	secrets, err := s.kv.Keys(ctx, traceSecretPrefix)
	if err != nil {
		return 0, err
	}
	for _, k := range secrets {
		d, err := time.Parse(dayLayout, strings.TrimPrefix(k, traceSecretPrefix))
		if err != nil || d.Unix() >= limit {
			continue
		}
		if err := s.kv.Remove(ctx, k); err != nil {
			return n, err
		}
		n++
	}

	pairs, err := s.kv.Keys(ctx, ephemeralPrefix)
	if err != nil {
		return n, err
	}
	for _, k := range pairs {
		idx, err := strconv.ParseInt(strings.TrimPrefix(k, ephemeralPrefix), 10, 64)
		if err != nil || idx >= limit {
			continue
		}
		if err := s.kv.Remove(ctx, k); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// PurgeAll irreversibly destroys all stored key material.
func (s *Store) PurgeAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.kv.Keys(ctx, "")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.kv.Remove(ctx, k); err != nil {
			return fmt.Errorf("remove %s: %w", k, err)
		}
	}
	s.log.Info("key material purged", zap.Int("records", len(keys)))
	return nil
}

func traceSecretKey(t time.Time) string { return traceSecretPrefix + t.UTC().Format(dayLayout) }

func ephemeralKey(dayIndex int64) string { return ephemeralPrefix + strconv.FormatInt(dayIndex, 10) }
