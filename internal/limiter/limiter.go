// Package limiter throttles check-in submissions per scanner and client and
// locks out clients that keep sending payloads that fail verification.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls submission attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether a submission is currently allowed and optional retry-after.
	Allow(ctx context.Context, scannerID string, clientHash []byte) (bool, time.Duration, error)
	// Success resets failure counters after a verified submission.
	Success(ctx context.Context, scannerID string, clientHash []byte) error
	// Failure records a rejected submission; may place a temporary block.
	Failure(ctx context.Context, scannerID string, clientHash []byte) (bool, time.Duration, error)
}

// HashClient returns a stable hash for a client address to avoid storing raw addresses.
func HashClient(addr string) []byte {
	h := sha256.Sum256([]byte(addr))
	return h[:]
}
