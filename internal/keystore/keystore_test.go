package keystore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/and161185/venue-trace/internal/crypto/tracecrypto"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/repository"
	"github.com/and161185/venue-trace/internal/repository/memory"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

// failingKV refuses writes.
type failingKV struct{ *memory.KV }

var _ repository.KeyValueRepository = (*failingKV)(nil)

func (failingKV) Store(context.Context, string, []byte) error { return errors.New("disk full") }

var day0 = time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)

func TestDayIndex_UTCMidnight(t *testing.T) {
	t.Parallel()
	want := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC).Unix()
	if got := DayIndex(day0); got != want {
		t.Fatalf("DayIndex=%d want %d", got, want)
	}
	berlin := time.FixedZone("CET", 3600)
	if got := DayIndex(time.Date(2024, 3, 11, 0, 30, 0, 0, berlin)); got != want {
		t.Fatalf("local time must be mapped to UTC day, got %d", got)
	}
}

func TestTraceSecret_StablePerDay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(memory.NewKV(), WithLogger(zaptest.NewLogger(t)))

	a, err := s.TraceSecret(ctx, day0)
	if err != nil {
		t.Fatalf("TraceSecret: %v", err)
	}
	if len(a) != tracecrypto.SecretLen {
		t.Fatalf("len=%d", len(a))
	}
	b, _ := s.TraceSecret(ctx, day0.Add(5*time.Hour))
	if !bytes.Equal(a, b) {
		t.Fatalf("same day must return the same secret")
	}
	c, _ := s.TraceSecret(ctx, day0.Add(24*time.Hour))
	if bytes.Equal(a, c) {
		t.Fatalf("next day must have a fresh secret")
	}
}

func TestTraceSecret_ConcurrentCallersAgree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(memory.NewKV())

	const n = 16
	out := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i], _ = s.TraceSecret(ctx, day0)
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if !bytes.Equal(out[0], out[i]) {
			t.Fatalf("caller %d got a different secret", i)
		}
	}
}

func TestTraceSecret_EntropyFailure(t *testing.T) {
	t.Parallel()
	s := New(memory.NewKV(), WithRand(failingReader{}))
	_, err := s.TraceSecret(context.Background(), day0)
	if !errors.Is(err, errs.ErrKeyUnavailable) {
		t.Fatalf("want ErrKeyUnavailable, got %v", err)
	}
	if !errors.Is(err, errs.ErrRandomnessUnavailable) {
		t.Fatalf("cause must be kept, got %v", err)
	}
}

func TestEphemeralKeyPair_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(memory.NewKV())
	idx := DayIndex(day0)

	if _, err := s.EphemeralPublicKey(ctx, idx); !errors.Is(err, errs.ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
	if err := s.EnsureEphemeralKeyPair(ctx, idx); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	p1, err := s.EphemeralPublicKey(ctx, idx)
	if err != nil {
		t.Fatalf("public: %v", err)
	}
	if err := s.EnsureEphemeralKeyPair(ctx, idx); err != nil {
		t.Fatalf("Ensure again: %v", err)
	}
	p2, _ := s.EphemeralPublicKey(ctx, idx)
	if !p1.Equal(p2) {
		t.Fatalf("second ensure must not replace the keypair")
	}
	priv, _ := s.EphemeralPrivateKey(ctx, idx)
	if !priv.PublicKey().Equal(p1) {
		t.Fatalf("private/public mismatch")
	}
}

func TestEphemeralKeyPair_StoreFailure(t *testing.T) {
	t.Parallel()
	s := New(failingKV{memory.NewKV()})
	err := s.EnsureEphemeralKeyPair(context.Background(), DayIndex(day0))
	if !errors.Is(err, errs.ErrKeyGenerationFailed) {
		t.Fatalf("want ErrKeyGenerationFailed, got %v", err)
	}
}

func TestIdentity_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(memory.NewKV())

	if _, err := s.Identity(ctx); !errors.Is(err, errs.ErrIdentityMissing) {
		t.Fatalf("want ErrIdentityMissing, got %v", err)
	}
	created, err := s.CreateIdentity(ctx)
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if created.Registered() || len(created.DataSecret) != 32 {
		t.Fatalf("fresh identity must be unregistered with a 32-byte secret")
	}

	uid := uuid.Must(uuid.NewV4())
	if err := s.SetUserID(ctx, uid); err != nil {
		t.Fatalf("SetUserID: %v", err)
	}
	got, err := s.Identity(ctx)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if got.UserID != uid || !got.SigningKey.Equal(created.SigningKey) || !bytes.Equal(got.DataSecret, created.DataSecret) {
		t.Fatalf("identity not persisted faithfully")
	}
}

func TestRecentTraceSecrets_SkipsMissingDays(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(memory.NewKV())

	for _, d := range []int{0, 2, 13, 14, 20} {
		if _, err := s.TraceSecret(ctx, day0.Add(-time.Duration(d)*24*time.Hour)); err != nil {
			t.Fatalf("TraceSecret: %v", err)
		}
	}
	got, err := s.RecentTraceSecrets(ctx, day0, 14)
	if err != nil {
		t.Fatalf("RecentTraceSecrets: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 secrets, got %d", len(got))
	}
	if !got[0].Day.Before(got[1].Day) || !got[1].Day.Before(got[2].Day) {
		t.Fatalf("must be oldest first")
	}
}

func TestPruneAndPurge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := memory.NewKV()
	s := New(kv)

	old := day0.Add(-30 * 24 * time.Hour)
	_, _ = s.TraceSecret(ctx, old)
	_, _ = s.TraceSecret(ctx, day0)
	_ = s.EnsureEphemeralKeyPair(ctx, DayIndex(old))
	_ = s.EnsureEphemeralKeyPair(ctx, DayIndex(day0))

	n, err := s.Prune(ctx, day0.Add(-Retention))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned %d, want 2", n)
	}
	if _, err := s.EphemeralPrivateKey(ctx, DayIndex(day0)); err != nil {
		t.Fatalf("current keypair must survive: %v", err)
	}

	if _, err := s.CreateIdentity(ctx); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if err := s.PurgeAll(ctx); err != nil {
		t.Fatalf("PurgeAll: %v", err)
	}
	keys, _ := kv.Keys(ctx, "")
	if len(keys) != 0 {
		t.Fatalf("keys left after purge: %v", keys)
	}
	if _, err := s.Identity(ctx); !errors.Is(err, errs.ErrIdentityMissing) {
		t.Fatalf("identity must be gone, got %v", err)
	}
}
