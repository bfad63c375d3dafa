// Package service contains the device-side application services: the
// check-in state machine, polling, registration and access matching.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/and161185/venue-trace/internal/backend"
	"github.com/and161185/venue-trace/internal/dailykey"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/keystore"
	"github.com/and161185/venue-trace/internal/metrics"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/payload"
	"github.com/and161185/venue-trace/internal/repository"
	"github.com/and161185/venue-trace/internal/traceid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Timing of the check-in episode lifecycle.
const (
	QRReuse        = 60 * time.Second
	CoreTTL        = time.Hour
	InfoRetention  = 28 * 24 * time.Hour
	MaxOpenEpisode = 24 * time.Hour
)

// TraceService drives QR generation, check-in, check-out and reconciliation.
type TraceService interface {
	// QRCode returns the QR payload to display, reusing the last one for QRReuse.
	QRCode(ctx context.Context) (model.QRCode, error)
	// CheckIn performs a self check-in at the scanner named by req.
	CheckIn(ctx context.Context, req model.SelfCheckin) (model.EpisodeState, error)
	// CheckOut closes the current check-in.
	CheckOut(ctx context.Context) error
	// FetchTraceStatus reconciles local state with the backend.
	FetchTraceStatus(ctx context.Context) (model.EpisodeState, error)
	// RepairDataIntegrity evicts old records and closes stale open ones. Runs once.
	RepairDataIntegrity(ctx context.Context) error
	// State reports the current episode state.
	State(ctx context.Context) (model.EpisodeState, error)
	// Current returns the open record, if any.
	Current(ctx context.Context) (model.TraceInfo, bool, error)
	// Subscribe delivers check-in and check-out events until cancel is called.
	Subscribe() (events <-chan model.TraceEvent, cancel func())
	// Reset drops all check-in state; used on account deletion.
	Reset(ctx context.Context) error
}

// HostingChecker reports whether the user currently hosts a private meeting.
type HostingChecker interface {
	HostingPrivateMeeting(ctx context.Context) (bool, error)
}

type builtQR struct {
	code model.QRCode
	raw  payload.QR
}

type TraceServiceImpl struct {
	keys    *keystore.Store
	daily   *dailykey.Cache
	codec   *payload.Codec
	backend backend.Backend
	infos   repository.TraceInfoRepository
	cores   repository.TraceCoreRepository
	ids     *traceid.Cache
	hosting HostingChecker
	now     func() time.Time
	log     *zap.Logger
	met     *metrics.Metrics

	sf singleflight.Group

	// serializes TraceInfo / TraceIDCore read-modify-write
	mu          sync.Mutex
	lastQR      *builtQR
	pending     string // submitted by CheckIn, not yet confirmed
	sideChannel any    // additional data sent with the current check-in
	lastClosed  string // closed by this process
	subs        map[int]chan model.TraceEvent
	nextSub     int

	repairOnce sync.Once
	repairErr  error
}

var _ TraceService = (*TraceServiceImpl)(nil)

// TraceOption configures a TraceServiceImpl.
type TraceOption func(*TraceServiceImpl)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) TraceOption { return func(s *TraceServiceImpl) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) TraceOption { return func(s *TraceServiceImpl) { s.log = l } }

// WithMetrics records outcomes on m.
func WithMetrics(m *metrics.Metrics) TraceOption { return func(s *TraceServiceImpl) { s.met = m } }

// WithHostingChecker blocks check-ins while a private meeting is hosted.
func WithHostingChecker(h HostingChecker) TraceOption {
	return func(s *TraceServiceImpl) { s.hosting = h }
}

// NewTraceService constructs the check-in state machine.
func NewTraceService(
	keys *keystore.Store,
	daily *dailykey.Cache,
	codec *payload.Codec,
	b backend.Backend,
	infos repository.TraceInfoRepository,
	cores repository.TraceCoreRepository,
	opts ...TraceOption,
) *TraceServiceImpl {
	s := &TraceServiceImpl{
		keys:    keys,
		daily:   daily,
		codec:   codec,
		backend: b,
		infos:   infos,
		cores:   cores,
		ids:     traceid.NewCache(),
		now:     time.Now,
		log:     zap.NewNop(),
		subs:    map[int]chan model.TraceEvent{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// classify keeps definite backend answers and wraps everything else as a
// network error.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errs.IsNetwork(err):
		return err
	case errors.Is(err, errs.ErrNotFound),
		errors.Is(err, errs.ErrEventNotValid),
		errors.Is(err, errs.ErrInvalidArgument),
		errors.Is(err, errs.ErrSignatureInvalid):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return errs.Network(op, err)
	}
}

// --- QR ---

func (s *TraceServiceImpl) QRCode(ctx context.Context) (model.QRCode, error) {
	s.ensureRepaired(ctx)
	q, err := s.buildQR(ctx)
	if err != nil {
		return model.QRCode{}, err
	}
	return q.code, nil
}

func (s *TraceServiceImpl) buildQR(ctx context.Context) (builtQR, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.lastQR != nil && now.Sub(s.lastQR.code.Core.CreatedAt) < QRReuse {
		return *s.lastQR, nil
	}

	id, err := s.keys.Identity(ctx)
	if err != nil {
		return builtQR{}, err
	}
	if !id.Registered() {
		return builtQR{}, errs.ErrIdentityMissing
	}
	dk, ok := s.daily.Newest()
	if !ok {
		return builtQR{}, errs.ErrNoDailyKey
	}

	s.expireCores(ctx, now)

	core := model.TraceIDCore{Timestamp: traceid.MinuteTimestamp(now), DailyKeyID: dk.KeyID, CreatedAt: now}
	tid, err := s.deriveID(ctx, core, id)
	if err != nil {
		return builtQR{}, err
	}

	day := keystore.DayIndex(tid.CheckIn)
	if err := s.keys.EnsureEphemeralKeyPair(ctx, day); err != nil {
		return builtQR{}, err
	}
	eph, err := s.keys.EphemeralPrivateKey(ctx, day)
	if err != nil {
		return builtQR{}, err
	}

	raw, err := s.codec.BuildQRCode(payload.QRInput{TraceID: tid, Identity: id, Ephemeral: eph, DailyKey: dk})
	if err != nil {
		return builtQR{}, err
	}
	if err := s.cores.Add(ctx, core); err != nil {
		return builtQR{}, fmt.Errorf("store trace core: %w", err)
	}

	q := builtQR{
		code: model.QRCode{Payload: raw.String(), TraceID: tid, Core: core, GeneratedAt: now},
		raw:  raw,
	}
	s.lastQR = &q
	return q, nil
}

func (s *TraceServiceImpl) deriveID(ctx context.Context, core model.TraceIDCore, id model.UserIdentity) (model.TraceID, error) {
	return s.ids.GetOrDerive(core, func() (model.TraceID, error) {
		secret, err := s.keys.TraceSecret(ctx, time.Unix(core.Timestamp, 0))
		if err != nil {
			return model.TraceID{}, err
		}
		return traceid.Derive(secret, id.UserID, core.Timestamp), nil
	})
}

func (s *TraceServiceImpl) expireCores(ctx context.Context, now time.Time) {
	cutoff := now.Add(-CoreTTL)
	s.ids.Evict(cutoff)
	if _, err := s.cores.DeleteCreatedBefore(ctx, cutoff); err != nil {
		s.log.Warn("expire trace cores", zap.Error(err))
	}
}

// --- Check-in ---

func (s *TraceServiceImpl) CheckIn(ctx context.Context, req model.SelfCheckin) (model.EpisodeState, error) {
	s.ensureRepaired(ctx)

	st, err := s.State(ctx)
	if err != nil {
		return st, err
	}
	if st == model.CheckedIn {
		return st, errs.ErrAlreadyCheckedIn
	}
	if s.hosting != nil {
		hosting, err := s.hosting.HostingPrivateMeeting(ctx)
		if err != nil {
			return st, err
		}
		if hosting {
			return st, errs.ErrPrivateMeetingRunning
		}
	}

	sc, err := s.backend.ResolveScanner(ctx, req.ScannerID)
	if err != nil {
		return st, classify("resolve scanner", err)
	}
	q, err := s.buildQR(ctx)
	if err != nil {
		return st, err
	}
	p, err := s.codec.BuildCheckIn(q.raw, sc, nil)
	if err != nil {
		return st, err
	}

	if err := s.backend.SubmitCheckIn(ctx, p); err != nil {
		if errors.Is(err, errs.ErrEventNotValid) {
			s.met.CheckIn("outdated")
			return st, fmt.Errorf("%w: %v", errs.ErrCheckInToOutdatedEvent, err)
		}
		s.met.CheckIn("failed")
		return st, classify("submit check-in", err)
	}
	s.met.CheckIn("submitted")

	data, hasSide := req.SideChannel()
	if hasSide {
		ad, err := s.codec.BuildAdditionalData(p.TraceID, sc.VenuePublicKey, data)
		if err != nil {
			return model.PendingConfirmation, err
		}
		if err := s.backend.SubmitAdditionalData(ctx, ad); err != nil {
			return model.PendingConfirmation, classify("submit additional data", err)
		}
	}

	s.mu.Lock()
	s.pending = p.TraceID
	if hasSide {
		s.sideChannel = data
	}
	s.mu.Unlock()

	info, err := s.backend.FetchTraceInfo(ctx, p.TraceID)
	switch {
	case err == nil && info.IsCheckedIn():
		if err := s.confirm(ctx, info); err != nil {
			return model.PendingConfirmation, err
		}
		return model.CheckedIn, nil
	case err != nil && !errors.Is(err, errs.ErrNotFound) && !errs.IsNetwork(err):
		return model.PendingConfirmation, classify("confirm check-in", err)
	default:
		s.log.Debug("check-in pending confirmation", zap.String("traceId", p.TraceID))
		return model.PendingConfirmation, nil
	}
}

func (s *TraceServiceImpl) confirm(ctx context.Context, info model.TraceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmLocked(ctx, info)
}

func (s *TraceServiceImpl) confirmLocked(ctx context.Context, info model.TraceInfo) error {
	if info.CreatedAt == nil {
		now := s.now().UTC()
		info.CreatedAt = &now
	}
	if err := s.infos.Upsert(ctx, info); err != nil {
		return fmt.Errorf("store trace info: %w", err)
	}
	if s.pending == info.TraceID {
		s.pending = ""
	}
	s.lastClosed = ""
	s.met.CheckIn("confirmed")
	s.log.Info("checked in", zap.String("traceId", info.TraceID))
	s.publish(model.TraceEvent{Kind: model.EventCheckIn, TraceInfo: info})
	return nil
}

// --- Check-out ---

func (s *TraceServiceImpl) CheckOut(ctx context.Context) error {
	s.ensureRepaired(ctx)
	_, err, _ := s.sf.Do("checkout", func() (any, error) {
		return nil, s.checkOut(ctx)
	})
	return err
}

func (s *TraceServiceImpl) checkOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok, err := s.currentLocked(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return s.repeatCheckOutLocked(ctx)
	}

	now := s.now().UTC()
	err = s.backend.SubmitCheckOut(ctx, payload.BuildCheckOut(cur.TraceID, now))
	switch {
	case err == nil:
		s.met.CheckOut("ok")
	case errors.Is(err, errs.ErrNotFound):
		s.met.CheckOut("already")
	default:
		s.met.CheckOut("failed")
		return classify("submit check-out", err)
	}
	return s.closeLocked(ctx, cur, now)
}

// repeatCheckOutLocked handles a check-out for the episode this process just
// closed: the backend is asked again and "not found" counts as done.
func (s *TraceServiceImpl) repeatCheckOutLocked(ctx context.Context) error {
	if s.lastClosed == "" {
		return errs.ErrNotCheckedIn
	}
	info, err := s.infos.Get(ctx, s.lastClosed)
	if err != nil || info.CheckOut == nil {
		return errs.ErrNotCheckedIn
	}
	err = s.backend.SubmitCheckOut(ctx, payload.BuildCheckOut(info.TraceID, *info.CheckOut))
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return classify("submit check-out", err)
	}
	s.met.CheckOut("already")
	return nil
}

func (s *TraceServiceImpl) closeLocked(ctx context.Context, info model.TraceInfo, at time.Time) error {
	if at.Before(info.CheckIn) {
		at = info.CheckIn
	}
	info.CheckOut = &at
	if err := s.infos.Upsert(ctx, info); err != nil {
		return fmt.Errorf("store trace info: %w", err)
	}
	s.ids.Clear()
	if err := s.cores.Clear(ctx); err != nil {
		s.log.Warn("clear trace cores", zap.Error(err))
	}
	s.lastQR = nil
	s.pending = ""
	s.sideChannel = nil
	s.lastClosed = info.TraceID
	s.log.Info("checked out", zap.String("traceId", info.TraceID))
	s.publish(model.TraceEvent{Kind: model.EventCheckOut, TraceInfo: info})
	return nil
}

// --- Reconciliation ---

func (s *TraceServiceImpl) FetchTraceStatus(ctx context.Context) (model.EpisodeState, error) {
	s.ensureRepaired(ctx)
	v, err, _ := s.sf.Do("reconcile", func() (any, error) {
		return s.reconcile(ctx)
	})
	st, _ := v.(model.EpisodeState)
	return st, err
}

func (s *TraceServiceImpl) reconcile(ctx context.Context) (model.EpisodeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok, err := s.currentLocked(ctx)
	if err != nil {
		return model.NotCheckedIn, err
	}
	if ok {
		return s.reconcileCheckedIn(ctx, cur)
	}
	return s.reconcileCores(ctx)
}

func (s *TraceServiceImpl) reconcileCheckedIn(ctx context.Context, cur model.TraceInfo) (model.EpisodeState, error) {
	remote, err := s.backend.FetchTraceInfo(ctx, cur.TraceID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		s.met.Reconciliation("closed_not_found")
		return model.CheckedOut, s.closeLocked(ctx, cur, s.now().UTC())
	case err != nil:
		s.met.Reconciliation("error")
		return model.CheckedIn, classify("fetch trace info", err)
	case !remote.IsCheckedIn():
		s.met.Reconciliation("closed_remote")
		return model.CheckedOut, s.closeLocked(ctx, cur, *remote.CheckOut)
	default:
		s.met.Reconciliation("unchanged")
		return model.CheckedIn, nil
	}
}

func (s *TraceServiceImpl) reconcileCores(ctx context.Context) (model.EpisodeState, error) {
	idle := s.idleStateLocked(ctx)

	id, err := s.keys.Identity(ctx)
	if errors.Is(err, errs.ErrIdentityMissing) || (err == nil && !id.Registered()) {
		return idle, nil
	}
	if err != nil {
		return idle, err
	}

	now := s.now()
	s.expireCores(ctx, now)
	cores, err := s.cores.List(ctx)
	if err != nil {
		return idle, fmt.Errorf("list trace cores: %w", err)
	}
	if len(cores) == 0 {
		s.met.Reconciliation("no_cores")
		return idle, nil
	}

	ids := make([]string, 0, len(cores))
	for _, c := range cores {
		tid, err := s.deriveID(ctx, c, id)
		if err != nil {
			return idle, err
		}
		ids = append(ids, tid.String())
	}

	remote, err := s.backend.FetchTraceInfos(ctx, ids)
	if err != nil {
		s.met.Reconciliation("error")
		return idle, classify("fetch trace infos", err)
	}

	var open *model.TraceInfo
	for i := range remote {
		r := remote[i]
		if !r.IsCheckedIn() {
			if err := s.infos.Upsert(ctx, r); err != nil {
				return idle, fmt.Errorf("store trace info: %w", err)
			}
			continue
		}
		if open == nil || r.CheckIn.After(open.CheckIn) {
			open = &r
		}
	}
	if open == nil {
		s.met.Reconciliation("no_match")
		return idle, nil
	}
	s.met.Reconciliation("matched")
	if err := s.confirmLocked(ctx, *open); err != nil {
		return idle, err
	}
	return model.CheckedIn, nil
}

// --- Repair ---

func (s *TraceServiceImpl) RepairDataIntegrity(ctx context.Context) error {
	s.repairOnce.Do(func() {
		s.repairErr = s.repair(ctx)
		if s.repairErr != nil {
			s.log.Warn("data integrity repair incomplete", zap.Error(s.repairErr))
		}
	})
	return s.repairErr
}

func (s *TraceServiceImpl) ensureRepaired(ctx context.Context) {
	_ = s.RepairDataIntegrity(ctx)
}

func (s *TraceServiceImpl) repair(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var errsOut []error

	evicted, err := s.infos.DeleteCheckedInBefore(ctx, now.Add(-InfoRetention))
	if err != nil {
		errsOut = append(errsOut, fmt.Errorf("evict trace infos: %w", err))
	}
	if _, err := s.keys.Prune(ctx, now.Add(-keystore.Retention)); err != nil {
		errsOut = append(errsOut, fmt.Errorf("prune key material: %w", err))
	}
	if _, err := s.cores.DeleteCreatedBefore(ctx, now.Add(-CoreTTL)); err != nil {
		errsOut = append(errsOut, fmt.Errorf("expire trace cores: %w", err))
	}

	infos, err := s.infos.List(ctx)
	if err != nil {
		return errors.Join(append(errsOut, fmt.Errorf("list trace infos: %w", err))...)
	}
	var open []model.TraceInfo
	for _, i := range infos {
		if i.IsCheckedIn() {
			open = append(open, i)
		}
	}
	sort.SliceStable(open, func(a, b int) bool { return open[a].CheckIn.Before(open[b].CheckIn) })

	closed := 0
	for i := 0; i+1 < len(open); i++ {
		out := open[i].CheckIn.Add(MaxOpenEpisode)
		if out.After(now) {
			out = now
		}
		open[i].CheckOut = &out
		if err := s.infos.Upsert(ctx, open[i]); err != nil {
			errsOut = append(errsOut, fmt.Errorf("close stale trace info: %w", err))
			continue
		}
		closed++
	}
	s.log.Info("data integrity repaired", zap.Int("evicted", evicted), zap.Int("closed", closed))
	return errors.Join(errsOut...)
}

// --- State ---

func (s *TraceServiceImpl) Current(ctx context.Context) (model.TraceInfo, bool, error) {
	s.ensureRepaired(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(ctx)
}

// currentLocked returns the newest open record.
func (s *TraceServiceImpl) currentLocked(ctx context.Context) (model.TraceInfo, bool, error) {
	infos, err := s.infos.List(ctx)
	if err != nil {
		return model.TraceInfo{}, false, fmt.Errorf("list trace infos: %w", err)
	}
	for i := len(infos) - 1; i >= 0; i-- {
		if infos[i].IsCheckedIn() {
			return infos[i], true, nil
		}
	}
	return model.TraceInfo{}, false, nil
}

func (s *TraceServiceImpl) State(ctx context.Context) (model.EpisodeState, error) {
	s.ensureRepaired(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.currentLocked(ctx)
	if err != nil {
		return model.NotCheckedIn, err
	}
	if ok {
		return model.CheckedIn, nil
	}
	return s.idleStateLocked(ctx), nil
}

func (s *TraceServiceImpl) idleStateLocked(ctx context.Context) model.EpisodeState {
	if s.pending != "" {
		return model.PendingConfirmation
	}
	if s.lastClosed != "" {
		return model.CheckedOut
	}
	infos, err := s.infos.List(ctx)
	if err == nil && len(infos) > 0 {
		return model.CheckedOut
	}
	return model.NotCheckedIn
}

// --- Events ---

func (s *TraceServiceImpl) Subscribe() (<-chan model.TraceEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan model.TraceEvent, 8)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// publish must be called with s.mu held. Slow subscribers drop events.
func (s *TraceServiceImpl) publish(ev model.TraceEvent) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.log.Warn("trace event dropped", zap.Int("kind", int(ev.Kind)))
		}
	}
}

// SideChannel returns the additional data sent with the current check-in.
func (s *TraceServiceImpl) SideChannel() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sideChannel, s.sideChannel != nil
}

func (s *TraceServiceImpl) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos, err := s.infos.List(ctx)
	if err != nil {
		return err
	}
	for _, i := range infos {
		if err := s.infos.Delete(ctx, i.TraceID); err != nil {
			return err
		}
	}
	if err := s.cores.Clear(ctx); err != nil {
		return err
	}
	s.ids.Clear()
	s.lastQR = nil
	s.pending = ""
	s.sideChannel = nil
	s.lastClosed = ""
	return nil
}
