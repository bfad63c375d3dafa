package repository

import (
	"context"
	"fmt"
)

// Sealer encrypts and decrypts a record bound to its name.
type Sealer interface {
	Seal(name string, plaintext []byte) ([]byte, error)
	Open(name string, blob []byte) ([]byte, error)
}

// SealedKV encrypts values at rest before they reach the wrapped repository.
// Keys are stored in clear so prefix listing keeps working.
type SealedKV struct {
	inner  KeyValueRepository
	sealer Sealer
}

var _ KeyValueRepository = (*SealedKV)(nil)

// NewSealedKV wraps inner with sealer.
func NewSealedKV(inner KeyValueRepository, sealer Sealer) *SealedKV {
	return &SealedKV{inner: inner, sealer: sealer}
}

// Restore loads and decrypts the value for key.
func (s *SealedKV) Restore(ctx context.Context, key string) ([]byte, error) {
	blob, err := s.inner.Restore(ctx, key)
	if err != nil {
		return nil, err
	}
	v, err := s.sealer.Open(key, blob)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return v, nil
}

// Store encrypts and stores value for key.
func (s *SealedKV) Store(ctx context.Context, key string, value []byte) error {
	blob, err := s.sealer.Seal(key, value)
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	return s.inner.Store(ctx, key, blob)
}

// Remove deletes key.
func (s *SealedKV) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

// Keys lists keys with prefix.
func (s *SealedKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.Keys(ctx, prefix)
}
