package dailykey

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/venue-trace/internal/crypto/tracecrypto"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// RefreshInterval is the default rotation cadence.
const RefreshInterval = 12 * time.Hour

// Source fetches daily keys and issuer signing keys.
type Source interface {
	FetchDailyPublicKey(ctx context.Context) (model.DailyKey, error)
	FetchIssuerKeys(ctx context.Context, issuerID uuid.UUID) (model.IssuerKeys, error)
}

// Rotator refreshes the cache from a Source.
type Rotator struct {
	cache *Cache
	src   Source
	log   *zap.Logger
	// backoff for network failures inside Run
	backoff func() retry.Backoff
}

// NewRotator constructs a Rotator.
func NewRotator(cache *Cache, src Source, log *zap.Logger) *Rotator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Rotator{
		cache: cache,
		src:   src,
		log:   log,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(5, retry.NewExponential(time.Second))
		},
	}
}

// Refresh fetches the current daily key and ingests it. On rejection the
// previous newest key stays in use and the validation error is returned.
func (r *Rotator) Refresh(ctx context.Context) (model.DailyKey, error) {
	cand, err := r.src.FetchDailyPublicKey(ctx)
	if err != nil {
		return model.DailyKey{}, fmt.Errorf("fetch daily key: %w", err)
	}
	if cur, ok := r.cache.Newest(); ok && cur.KeyID == cand.KeyID && cur.CreatedAt.Equal(cand.CreatedAt) {
		return cur, nil
	}

	ik, err := r.src.FetchIssuerKeys(ctx, cand.IssuerID)
	if err != nil {
		return model.DailyKey{}, fmt.Errorf("fetch issuer keys: %w", err)
	}
	pub, err := tracecrypto.ParseSigningPublicKey(ik.SigningPublicKey)
	if err != nil {
		return model.DailyKey{}, fmt.Errorf("issuer %s: %w: %v", cand.IssuerID, errs.ErrSignatureInvalid, err)
	}

	if len(cand.Signature) == 0 && cand.SignedToken != "" {
		return r.cache.IngestToken(ctx, cand.SignedToken, pub)
	}
	if err := r.cache.Ingest(ctx, cand, pub); err != nil {
		if prev, ok := r.cache.Newest(); ok {
			r.log.Warn("daily key rejected, keeping previous",
				zap.Int("candidate", cand.KeyID), zap.Int("current", prev.KeyID), zap.Error(err))
		}
		return model.DailyKey{}, err
	}
	return cand, nil
}

// Run refreshes immediately and then every interval until ctx is done.
// Network failures are retried with backoff; validation failures wait for
// the next tick.
func (r *Rotator) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = RefreshInterval
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
			_, err := r.Refresh(ctx)
			if errs.IsNetwork(err) {
				return retry.RetryableError(err)
			}
			return err
		})
		if err != nil && ctx.Err() == nil {
			r.log.Warn("daily key refresh failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
