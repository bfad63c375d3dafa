// Package stub is an in-memory trace backend. It plays the health authority
// (signed daily keys), the venues (scanner keys) and the check-in registry,
// and verifies every submission the way a real backend would.
package stub

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/and161185/venue-trace/internal/backend"
	"github.com/and161185/venue-trace/internal/crypto/tracecrypto"
	"github.com/and161185/venue-trace/internal/dailykey"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/limiter"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/payload"
	"github.com/and161185/venue-trace/internal/traceid"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// QRValidity bounds how old a check-in timestamp may be.
const QRValidity = 2 * time.Hour

type dailyKey struct {
	model.DailyKey
	priv *ecdh.PrivateKey
}

type scanner struct {
	model.Scanner
	priv *ecdh.PrivateKey
}

type trace struct {
	info      model.TraceInfo
	scannerID uuid.UUID
	userID    uuid.UUID
}

type user struct {
	signingKey []byte
	data       model.UserRegistrationData
}

// Backend implements backend.Backend in memory. Safe for concurrent use.
type Backend struct {
	now  func() time.Time
	rand io.Reader
	log  *zap.Logger
	lim  limiter.Limiter

	issuerID   uuid.UUID
	issuerName string
	issuerKey  *ecdsa.PrivateKey

	mu         sync.RWMutex
	dailyKeys  []dailyKey // oldest first
	scanners   map[uuid.UUID]scanner
	traces     map[string]*trace
	additional map[string]json.RawMessage
	users      map[uuid.UUID]user
	accessed   map[uuid.UUID][]string
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(b *Backend) { b.now = now } }

// WithRand overrides the entropy source.
func WithRand(r io.Reader) Option { return func(b *Backend) { b.rand = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// WithLimiter replaces the default in-memory submission limiter.
func WithLimiter(l limiter.Limiter) Option { return func(b *Backend) { b.lim = l } }

// WithIssuerName names the daily-key issuer.
func WithIssuerName(name string) Option { return func(b *Backend) { b.issuerName = name } }

// New constructs a Backend with a fresh issuer key and a first daily key.
func New(opts ...Option) (*Backend, error) {
	b := &Backend{
		now:        time.Now,
		rand:       rand.Reader,
		log:        zap.NewNop(),
		lim:        limiter.NewMemory(rate.Every(time.Second), 10, 15*time.Minute, 5, 15*time.Minute),
		issuerName: "stub health authority",
		scanners:   map[uuid.UUID]scanner{},
		traces:     map[string]*trace{},
		additional: map[string]json.RawMessage{},
		users:      map[uuid.UUID]user{},
		accessed:   map[uuid.UUID][]string{},
	}
	for _, o := range opts {
		o(b)
	}

	var err error
	if b.issuerID, err = uuid.NewV4(); err != nil {
		return nil, fmt.Errorf("issuer id: %w", err)
	}
	if b.issuerKey, err = tracecrypto.GenerateSigningKey(b.rand); err != nil {
		return nil, fmt.Errorf("issuer key: %w", err)
	}
	if _, err := b.RotateDailyKey(context.Background()); err != nil {
		return nil, err
	}
	return b, nil
}

// IssuerID returns the id of the daily-key issuer.
func (b *Backend) IssuerID() uuid.UUID { return b.issuerID }

// RotateDailyKey publishes a new daily key signed by the issuer, both as a
// raw signature and as an ES256 token.
func (b *Backend) RotateDailyKey(_ context.Context) (model.DailyKey, error) {
	priv, err := tracecrypto.GenerateKeyPair(b.rand)
	if err != nil {
		return model.DailyKey{}, fmt.Errorf("daily key: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := 0
	if n := len(b.dailyKeys); n > 0 {
		id = (b.dailyKeys[n-1].KeyID + 1) % 256
	}
	k := model.DailyKey{
		KeyID:     id,
		CreatedAt: b.now().UTC().Truncate(time.Second),
		IssuerID:  b.issuerID,
		PublicKey: priv.PublicKey().Bytes(),
	}
	if k.Signature, err = tracecrypto.Sign(b.rand, b.issuerKey, dailykey.SignedMessage(k.KeyID, k.CreatedAt, k.PublicKey)); err != nil {
		return model.DailyKey{}, fmt.Errorf("sign daily key: %w", err)
	}
	if k.SignedToken, err = dailykey.IssueToken(k, b.issuerKey); err != nil {
		return model.DailyKey{}, fmt.Errorf("sign daily key token: %w", err)
	}

	b.dailyKeys = append(b.dailyKeys, dailyKey{DailyKey: k, priv: priv})
	if len(b.dailyKeys) > dailykey.MaxKeys {
		b.dailyKeys = b.dailyKeys[len(b.dailyKeys)-dailykey.MaxKeys:]
	}
	b.log.Info("daily key rotated", zap.Int("keyId", k.KeyID))
	return k, nil
}

// FetchDailyPublicKey returns the newest daily key.
func (b *Backend) FetchDailyPublicKey(context.Context) (model.DailyKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.dailyKeys) == 0 {
		return model.DailyKey{}, errs.ErrNotFound
	}
	return b.dailyKeys[len(b.dailyKeys)-1].DailyKey, nil
}

// FetchIssuerKeys returns the issuer signing key.
func (b *Backend) FetchIssuerKeys(_ context.Context, issuerID uuid.UUID) (model.IssuerKeys, error) {
	if issuerID != b.issuerID {
		return model.IssuerKeys{}, errs.ErrNotFound
	}
	pub, err := tracecrypto.MarshalSigningPublicKey(&b.issuerKey.PublicKey)
	if err != nil {
		return model.IssuerKeys{}, err
	}
	return model.IssuerKeys{IssuerID: b.issuerID, Name: b.issuerName, SigningPublicKey: pub}, nil
}

// AddScanner registers a venue scanner with a fresh venue keypair.
func (b *Backend) AddScanner(_ context.Context, locationID uuid.UUID) (model.Scanner, error) {
	priv, err := tracecrypto.GenerateKeyPair(b.rand)
	if err != nil {
		return model.Scanner{}, fmt.Errorf("venue key: %w", err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Scanner{}, err
	}
	s := model.Scanner{ScannerID: id, LocationID: locationID, VenuePublicKey: priv.PublicKey().Bytes()}

	b.mu.Lock()
	b.scanners[id] = scanner{Scanner: s, priv: priv}
	b.mu.Unlock()
	return s, nil
}

// ResolveScanner returns the scanner with its venue public key.
func (b *Backend) ResolveScanner(_ context.Context, scannerID uuid.UUID) (model.Scanner, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.scanners[scannerID]
	if !ok {
		return model.Scanner{}, errs.ErrNotFound
	}
	return s.Scanner, nil
}

func (b *Backend) clientHash(ctx context.Context) []byte {
	addr, ok := backend.ClientFromCtx(ctx)
	if !ok {
		addr = "local"
	}
	return limiter.HashClient(addr)
}

// SubmitCheckIn verifies the venue MAC, opens the identity blob with the
// daily private key and registers the trace as checked in.
func (b *Backend) SubmitCheckIn(ctx context.Context, p model.CheckInPayload) error {
	client := b.clientHash(ctx)
	scannerKey := p.ScannerID.String()
	ok, retryAfter, err := b.lim.Allow(ctx, scannerKey, client)
	if err != nil {
		return fmt.Errorf("limiter: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: retry after %s", errs.ErrRateLimited, retryAfter)
	}

	uid, err := b.verifyCheckIn(p)
	if err != nil {
		if blocked, d, lerr := b.lim.Failure(ctx, scannerKey, client); lerr == nil && blocked {
			b.log.Warn("scanner client blocked", zap.String("scanner", scannerKey), zap.Duration("for", d))
		}
		return err
	}
	if err := b.lim.Success(ctx, scannerKey, client); err != nil {
		b.log.Warn("limiter success", zap.Error(err))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.traces[p.TraceID]; dup {
		return nil
	}
	now := b.now().UTC()
	b.traces[p.TraceID] = &trace{
		info: model.TraceInfo{
			TraceID:    p.TraceID,
			CheckIn:    time.Unix(p.Timestamp, 0).UTC(),
			LocationID: b.scanners[p.ScannerID].LocationID,
			CreatedAt:  &now,
		},
		scannerID: p.ScannerID,
		userID:    uid,
	}
	b.log.Info("checked in", zap.String("traceId", p.TraceID))
	return nil
}

func (b *Backend) verifyCheckIn(p model.CheckInPayload) (uuid.UUID, error) {
	b.mu.RLock()
	s, ok := b.scanners[p.ScannerID]
	keys := append([]dailyKey(nil), b.dailyKeys...)
	b.mu.RUnlock()
	if !ok {
		return uuid.Nil, errs.ErrNotFound
	}

	c, err := payload.DecryptCheckIn(p, s.priv)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: check-in: %v", errs.ErrInvalidArgument, err)
	}
	if age := b.now().Sub(time.Unix(p.Timestamp, 0)); age > QRValidity {
		return uuid.Nil, fmt.Errorf("%w: qr is %s old", errs.ErrEventNotValid, age.Truncate(time.Second))
	}

	var dk *dailyKey
	for i := len(keys) - 1; i >= 0; i-- {
		if keys[i].KeyID == int(c.DailyKeyID) {
			dk = &keys[i]
			break
		}
	}
	if dk == nil {
		return uuid.Nil, fmt.Errorf("%w: unknown daily key %d", errs.ErrEventNotValid, c.DailyKeyID)
	}

	raw, err := base64.StdEncoding.DecodeString(p.TraceID)
	if err != nil || len(raw) != model.TraceIDLen {
		return uuid.Nil, fmt.Errorf("%w: trace id", errs.ErrInvalidArgument)
	}
	q := payload.QR{
		Version:            c.Version,
		DeviceType:         byte(p.DeviceType),
		DailyKeyID:         c.DailyKeyID,
		Timestamp:          uint32(p.Timestamp),
		EncryptedBlob:      c.EncryptedBlob,
		EphemeralPublicKey: c.EphemeralPublicKey,
		Tag:                c.Tag,
	}
	copy(q.TraceID[:], raw)
	uid, _, err := payload.OpenQRBlob(q, dk.priv)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: qr blob: %v", errs.ErrInvalidArgument, err)
	}
	return uid, nil
}

// SubmitCheckOut closes an open trace. Unknown or already closed traces are
// reported as errs.ErrNotFound.
func (b *Backend) SubmitCheckOut(_ context.Context, p model.CheckOutPayload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.traces[p.TraceID]
	if !ok || t.info.CheckOut != nil {
		return errs.ErrNotFound
	}
	out := time.Unix(p.Timestamp, 0).UTC()
	if out.Before(t.info.CheckIn) {
		return fmt.Errorf("%w: checkout before checkin", errs.ErrInvalidArgument)
	}
	t.info.CheckOut = &out
	return nil
}

// VenueCheckOut closes a trace from the venue side, as a venue does when it
// checks out all guests at closing time.
func (b *Backend) VenueCheckOut(ctx context.Context, traceID string) error {
	return b.SubmitCheckOut(ctx, model.CheckOutPayload{TraceID: traceID, Timestamp: b.now().Unix()})
}

// SubmitAdditionalData decrypts a side channel with the venue key of the
// scanner that checked the trace in.
func (b *Backend) SubmitAdditionalData(_ context.Context, p model.AdditionalDataPayload) error {
	b.mu.RLock()
	t, ok := b.traces[p.TraceID]
	var s scanner
	if ok {
		s = b.scanners[t.scannerID]
	}
	b.mu.RUnlock()
	if !ok {
		return errs.ErrNotFound
	}

	var data json.RawMessage
	if err := payload.DecryptAdditionalData(p, s.priv, &data); err != nil {
		return fmt.Errorf("%w: additional data: %v", errs.ErrInvalidArgument, err)
	}
	b.mu.Lock()
	b.additional[p.TraceID] = data
	b.mu.Unlock()
	return nil
}

// AdditionalData returns the decrypted side channel of a trace.
func (b *Backend) AdditionalData(traceID string) (json.RawMessage, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.additional[traceID]
	return d, ok
}

// TraceUser returns the user id recovered from the QR blob of a trace.
func (b *Backend) TraceUser(traceID string) (uuid.UUID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.traces[traceID]
	if !ok {
		return uuid.Nil, false
	}
	return t.userID, true
}

// FetchTraceInfo returns the record of one trace.
func (b *Backend) FetchTraceInfo(_ context.Context, traceID string) (model.TraceInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.traces[traceID]
	if !ok {
		return model.TraceInfo{}, errs.ErrNotFound
	}
	return t.info, nil
}

// FetchTraceInfos returns the records of the known ids, in request order.
func (b *Backend) FetchTraceInfos(_ context.Context, traceIDs []string) ([]model.TraceInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.TraceInfo, 0, len(traceIDs))
	for _, id := range traceIDs {
		if t, ok := b.traces[id]; ok {
			out = append(out, t.info)
		}
	}
	return out, nil
}

// RegisterUser verifies the package signature and assigns a user id.
func (b *Backend) RegisterUser(_ context.Context, d model.UserRegistrationData) (uuid.UUID, error) {
	if err := payload.VerifyUserRegistrationData(d); err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	b.mu.Lock()
	b.users[id] = user{signingKey: d.PublicKey, data: d}
	b.mu.Unlock()
	return id, nil
}

// UpdateUser replaces the contact package of a user. The package must be
// signed by the key the user registered with.
func (b *Backend) UpdateUser(_ context.Context, userID uuid.UUID, d model.UserRegistrationData) error {
	if err := payload.VerifyUserRegistrationData(d); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[userID]
	if !ok {
		return errs.ErrNotFound
	}
	if !bytes.Equal(u.signingKey, d.PublicKey) {
		return fmt.Errorf("%w: signing key changed", errs.ErrSignatureInvalid)
	}
	u.data = d
	b.users[userID] = u
	return nil
}

// DeleteUser removes a user after checking the deletion signature.
func (b *Backend) DeleteUser(_ context.Context, userID uuid.UUID, signature []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[userID]
	if !ok {
		return errs.ErrNotFound
	}
	if err := payload.VerifyUserDeletion(userID, u.signingKey, signature); err != nil {
		return err
	}
	delete(b.users, userID)
	return nil
}

// User returns the registration package of a user.
func (b *Backend) User(userID uuid.UUID) (model.UserRegistrationData, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.users[userID]
	return u.data, ok
}

// PublishAccess records that a health department accessed the given traces.
// Trace ids are stored hashed per department.
func (b *Backend) PublishAccess(_ context.Context, healthDepartmentID uuid.UUID, traceIDs []string) error {
	hashed := make([]string, 0, len(traceIDs))
	for _, id := range traceIDs {
		h, err := traceid.HashForHealthDepartment(id, healthDepartmentID)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
		}
		hashed = append(hashed, h)
	}
	b.mu.Lock()
	b.accessed[healthDepartmentID] = append(b.accessed[healthDepartmentID], hashed...)
	b.mu.Unlock()
	return nil
}

// FetchAccessedTraceIDs returns the hashed accessed ids per department.
func (b *Backend) FetchAccessedTraceIDs(context.Context) ([]model.AccessedHashes, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.AccessedHashes, 0, len(b.accessed))
	for hd, ids := range b.accessed {
		out = append(out, model.AccessedHashes{HealthDepartmentID: hd, HashedTraceIDs: append([]string(nil), ids...)})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].HealthDepartmentID.String() < out[j].HealthDepartmentID.String()
	})
	return out, nil
}
