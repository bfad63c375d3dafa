package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/and161185/venue-trace/internal/backend/stub"
	"github.com/and161185/venue-trace/internal/dailykey"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/keystore"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/payload"
	"github.com/and161185/venue-trace/internal/repository/memory"
	"github.com/and161185/venue-trace/internal/traceid"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	skew time.Duration // added to the backend clock only
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) BackendNow() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t.Add(c.skew)
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Skew(d time.Duration) {
	c.mu.Lock()
	c.skew = d
	c.mu.Unlock()
}

// flakyBackend fails trace-info reads with a network error while down is set.
type flakyBackend struct {
	*stub.Backend
	mu   sync.Mutex
	down bool
}

func (f *flakyBackend) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *flakyBackend) FetchTraceInfo(ctx context.Context, traceID string) (model.TraceInfo, error) {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return model.TraceInfo{}, errs.Network("fetch trace info", errors.New("connection reset"))
	}
	return f.Backend.FetchTraceInfo(ctx, traceID)
}

type hosting bool

func (h hosting) HostingPrivateMeeting(context.Context) (bool, error) { return bool(h), nil }

type testEnv struct {
	clk     *fakeClock
	sb      *stub.Backend
	be      *flakyBackend
	keys    *keystore.Store
	daily   *dailykey.Cache
	codec   *payload.Codec
	infos   *memory.TraceInfos
	cores   *memory.TraceCores
	userID  uuid.UUID
	scanner model.Scanner
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	clk := newClock()

	sb, err := stub.New(stub.WithClock(clk.BackendNow), stub.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("stub: %v", err)
	}
	be := &flakyBackend{Backend: sb}

	keys := keystore.New(memory.NewKV())
	daily, err := dailykey.NewCache(ctx, memory.NewDailyKeys(), dailykey.WithClock(clk.Now))
	if err != nil {
		t.Fatalf("daily cache: %v", err)
	}
	if _, err := dailykey.NewRotator(daily, sb, nil).Refresh(ctx); err != nil {
		t.Fatalf("refresh daily key: %v", err)
	}

	codec := payload.NewCodec(model.DeviceTypeAndroid)
	uid, err := NewRegistrationService(keys, codec, sb, nil, nil).Register(ctx, model.ContactData{Version: 2, FirstName: "Ada", LastName: "L", PhoneNumber: "+4930123"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	sc, err := sb.AddScanner(ctx, uuid.Must(uuid.NewV4()))
	if err != nil {
		t.Fatalf("add scanner: %v", err)
	}

	return &testEnv{
		clk: clk, sb: sb, be: be, keys: keys, daily: daily, codec: codec,
		infos: memory.NewTraceInfos(), cores: memory.NewTraceCores(),
		userID: uid, scanner: sc,
	}
}

func (e *testEnv) service(t *testing.T, opts ...TraceOption) *TraceServiceImpl {
	t.Helper()
	opts = append([]TraceOption{WithClock(e.clk.Now), WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewTraceService(e.keys, e.daily, e.codec, e.be, e.infos, e.cores, opts...)
}

func (e *testEnv) table() model.SelfCheckin {
	return model.SelfCheckin{ScannerID: e.scanner.ScannerID, Kind: model.CheckinTable}
}

func TestQRCode_ReusedWithinWindow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := e.service(t)

	q1, err := svc.QRCode(ctx)
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	e.clk.Add(30 * time.Second)
	q2, err := svc.QRCode(ctx)
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	if q1.Payload != q2.Payload {
		t.Fatalf("qr regenerated within reuse window")
	}

	e.clk.Add(31 * time.Second)
	q3, err := svc.QRCode(ctx)
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	if q3.Payload == q1.Payload || q3.TraceID.ID == q1.TraceID.ID {
		t.Fatalf("qr not regenerated after reuse window")
	}

	cores, _ := e.cores.List(ctx)
	if len(cores) != 2 {
		t.Fatalf("want 2 trace cores, got %d", len(cores))
	}
}

func TestQRCode_TraceIDDerivedFromDailySecret(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := e.service(t)

	q, err := svc.QRCode(ctx)
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	if q.Core.Timestamp != traceid.MinuteTimestamp(e.clk.Now()) {
		t.Fatalf("core timestamp %d not rounded to the minute", q.Core.Timestamp)
	}
	secret, err := e.keys.TraceSecret(ctx, e.clk.Now())
	if err != nil {
		t.Fatalf("trace secret: %v", err)
	}
	if want := traceid.Derive(secret, e.userID, q.Core.Timestamp); want.ID != q.TraceID.ID {
		t.Fatalf("trace id mismatch")
	}

	parsed, err := payload.ParseQRCode(q.Payload)
	if err != nil {
		t.Fatalf("parse qr: %v", err)
	}
	if parsed.TraceIDString() != q.TraceID.String() {
		t.Fatalf("qr carries %s, want %s", parsed.TraceIDString(), q.TraceID.String())
	}
}

func TestQRCode_Preconditions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	empty, err := dailykey.NewCache(ctx, memory.NewDailyKeys())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	svc := NewTraceService(e.keys, empty, e.codec, e.be, e.infos, e.cores, WithClock(e.clk.Now))
	if _, err := svc.QRCode(ctx); !errors.Is(err, errs.ErrNoDailyKey) {
		t.Fatalf("want ErrNoDailyKey, got %v", err)
	}

	fresh := keystore.New(memory.NewKV())
	svc = NewTraceService(fresh, e.daily, e.codec, e.be, e.infos, e.cores, WithClock(e.clk.Now))
	if _, err := svc.QRCode(ctx); !errors.Is(err, errs.ErrIdentityMissing) {
		t.Fatalf("want ErrIdentityMissing, got %v", err)
	}
	if _, err := fresh.CreateIdentity(ctx); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if _, err := svc.QRCode(ctx); !errors.Is(err, errs.ErrIdentityMissing) {
		t.Fatalf("unregistered identity: want ErrIdentityMissing, got %v", err)
	}
}

func TestCheckIn_Confirmed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := e.service(t)
	events, cancel := svc.Subscribe()
	defer cancel()

	st, err := svc.CheckIn(ctx, e.table())
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if st != model.CheckedIn {
		t.Fatalf("want checked in, got %s", st)
	}

	cur, ok, err := svc.Current(ctx)
	if err != nil || !ok {
		t.Fatalf("current: %v %v", ok, err)
	}
	if cur.LocationID != e.scanner.LocationID {
		t.Fatalf("location %s, want %s", cur.LocationID, e.scanner.LocationID)
	}
	if uid, ok := e.sb.TraceUser(cur.TraceID); !ok || uid != e.userID {
		t.Fatalf("backend attributed trace to %s", uid)
	}

	select {
	case ev := <-events:
		if ev.Kind != model.EventCheckIn || ev.TraceInfo.TraceID != cur.TraceID {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("no check-in event")
	}

	if _, err := svc.CheckIn(ctx, e.table()); !errors.Is(err, errs.ErrAlreadyCheckedIn) {
		t.Fatalf("second check-in: want ErrAlreadyCheckedIn, got %v", err)
	}
}

func TestCheckIn_PrivateMeetingRunning(t *testing.T) {
	e := newEnv(t)
	svc := e.service(t, WithHostingChecker(hosting(true)))

	st, err := svc.CheckIn(context.Background(), e.table())
	if !errors.Is(err, errs.ErrPrivateMeetingRunning) {
		t.Fatalf("want ErrPrivateMeetingRunning, got %v", err)
	}
	if st != model.NotCheckedIn {
		t.Fatalf("state changed to %s", st)
	}
}

func TestCheckIn_OutdatedEvent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := e.service(t)
	e.clk.Skew(stub.QRValidity + time.Hour)

	_, err := svc.CheckIn(ctx, e.table())
	if !errors.Is(err, errs.ErrCheckInToOutdatedEvent) {
		t.Fatalf("want ErrCheckInToOutdatedEvent, got %v", err)
	}
	if st, _ := svc.State(ctx); st != model.NotCheckedIn {
		t.Fatalf("state changed to %s", st)
	}
}

func TestCheckIn_UnknownScanner(t *testing.T) {
	e := newEnv(t)
	svc := e.service(t)

	_, err := svc.CheckIn(context.Background(), model.SelfCheckin{ScannerID: uuid.Must(uuid.NewV4())})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCheckIn_PendingUntilReconciled(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := e.service(t)

	e.be.setDown(true)
	st, err := svc.CheckIn(ctx, e.table())
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if st != model.PendingConfirmation {
		t.Fatalf("want pending, got %s", st)
	}
	if st, _ := svc.State(ctx); st != model.PendingConfirmation {
		t.Fatalf("state: want pending, got %s", st)
	}

	e.be.setDown(false)
	e.clk.Add(10 * time.Second)
	st, err = svc.FetchTraceStatus(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if st != model.CheckedIn {
		t.Fatalf("want checked in after reconcile, got %s", st)
	}
}

func TestCheckIn_SideChannel(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := e.service(t)

	req := e.table()
	req.AdditionalData = map[string]any{"table": "7"}
	if _, err := svc.CheckIn(ctx, req); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	cur, _, _ := svc.Current(ctx)
	if _, ok := e.sb.AdditionalData(cur.TraceID); !ok {
		t.Fatalf("additional data not submitted")
	}
	if _, ok := svc.SideChannel(); !ok {
		t.Fatalf("side channel not kept")
	}

	e.clk.Add(time.Minute)
	if err := svc.CheckOut(ctx); err != nil {
		t.Fatalf("check-out: %v", err)
	}
	if _, ok := svc.SideChannel(); ok {
		t.Fatalf("side channel kept after check-out")
	}
}

func TestCheckOut_Idempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := e.service(t)

	if err := svc.CheckOut(ctx); !errors.Is(err, errs.ErrNotCheckedIn) {
		t.Fatalf("check-out before check-in: want ErrNotCheckedIn, got %v", err)
	}
	if _, err := svc.CheckIn(ctx, e.table()); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	events, cancel := svc.Subscribe()
	defer cancel()

	e.clk.Add(5 * time.Minute)
	if err := svc.CheckOut(ctx); err != nil {
		t.Fatalf("check-out: %v", err)
	}
	infos, _ := e.infos.List(ctx)
	if len(infos) != 1 || infos[0].CheckOut == nil {
		t.Fatalf("record not closed: %+v", infos)
	}
	closedAt := *infos[0].CheckOut

	e.clk.Add(time.Minute)
	if err := svc.CheckOut(ctx); err != nil {
		t.Fatalf("repeated check-out: %v", err)
	}
	infos, _ = e.infos.List(ctx)
	if !infos[0].CheckOut.Equal(closedAt) {
		t.Fatalf("repeated check-out moved check-out time")
	}
	if st, _ := svc.State(ctx); st != model.CheckedOut {
		t.Fatalf("want checked out, got %s", st)
	}
	if cores, _ := e.cores.List(ctx); len(cores) != 0 {
		t.Fatalf("trace cores kept after check-out: %d", len(cores))
	}

	n := 0
	for len(events) > 0 {
		if ev := <-events; ev.Kind == model.EventCheckOut {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("want 1 check-out event, got %d", n)
	}
}

func TestCheckOut_Concurrent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := e.service(t)
	if _, err := svc.CheckIn(ctx, e.table()); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	e.clk.Add(time.Minute)

	var wg sync.WaitGroup
	errc := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errc <- svc.CheckOut(ctx)
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		if err != nil {
			t.Fatalf("concurrent check-out: %v", err)
		}
	}
}

func TestFetchTraceStatus_VenueCheckOut(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := e.service(t)
	if _, err := svc.CheckIn(ctx, e.table()); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	st, err := svc.FetchTraceStatus(ctx)
	if err != nil || st != model.CheckedIn {
		t.Fatalf("reconcile while open: %s %v", st, err)
	}

	cur, _, _ := svc.Current(ctx)
	e.clk.Add(time.Hour)
	if err := e.sb.VenueCheckOut(ctx, cur.TraceID); err != nil {
		t.Fatalf("venue check-out: %v", err)
	}
	st, err = svc.FetchTraceStatus(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if st != model.CheckedOut {
		t.Fatalf("want checked out, got %s", st)
	}
	got, err := e.infos.Get(ctx, cur.TraceID)
	if err != nil || got.CheckOut == nil || !got.CheckOut.Equal(e.clk.Now()) {
		t.Fatalf("local record not closed at venue time: %+v %v", got, err)
	}
}

func TestFetchTraceStatus_MatchesScannedQR(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := e.service(t)
	events, cancel := svc.Subscribe()
	defer cancel()

	if st, err := svc.FetchTraceStatus(ctx); err != nil || st != model.NotCheckedIn {
		t.Fatalf("reconcile before any qr: %s %v", st, err)
	}

	q, err := svc.QRCode(ctx)
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	// the venue scans the displayed code
	parsed, err := payload.ParseQRCode(q.Payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, err := payload.NewCodec(model.DeviceTypeStatic).BuildCheckIn(parsed, e.scanner, nil)
	if err != nil {
		t.Fatalf("venue check-in: %v", err)
	}
	if err := e.sb.SubmitCheckIn(ctx, p); err != nil {
		t.Fatalf("submit: %v", err)
	}

	st, err := svc.FetchTraceStatus(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if st != model.CheckedIn {
		t.Fatalf("want checked in, got %s", st)
	}
	if ev := <-events; ev.TraceInfo.TraceID != q.TraceID.String() {
		t.Fatalf("event for %s, want %s", ev.TraceInfo.TraceID, q.TraceID.String())
	}
}

func TestRepairDataIntegrity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	now := e.clk.Now()
	at := func(d time.Duration) time.Time { return now.Add(-d) }
	closed := func(d time.Duration) *time.Time { c := now.Add(-d); return &c }

	seed := []model.TraceInfo{
		{TraceID: "ancient", CheckIn: at(29 * 24 * time.Hour), CheckOut: closed(29*24*time.Hour - time.Hour)},
		{TraceID: "old", CheckIn: at(27 * 24 * time.Hour), CheckOut: closed(27*24*time.Hour - time.Hour)},
		{TraceID: "open-3d", CheckIn: at(72 * time.Hour)},
		{TraceID: "open-2d", CheckIn: at(48 * time.Hour)},
		{TraceID: "open-now", CheckIn: at(10 * time.Minute)},
	}
	for _, s := range seed {
		if err := e.infos.Upsert(ctx, s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	_ = e.cores.Add(ctx, model.TraceIDCore{Timestamp: at(2 * time.Hour).Unix(), DailyKeyID: 0, CreatedAt: at(2 * time.Hour)})
	_ = e.cores.Add(ctx, model.TraceIDCore{Timestamp: at(time.Minute).Unix(), DailyKeyID: 0, CreatedAt: at(time.Minute)})

	svc := e.service(t)
	if err := svc.RepairDataIntegrity(ctx); err != nil {
		t.Fatalf("repair: %v", err)
	}

	if _, err := e.infos.Get(ctx, "ancient"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("29 day old record kept: %v", err)
	}
	if _, err := e.infos.Get(ctx, "old"); err != nil {
		t.Fatalf("27 day old record dropped: %v", err)
	}
	for _, id := range []string{"open-3d", "open-2d"} {
		got, _ := e.infos.Get(ctx, id)
		if got.CheckOut == nil || !got.CheckOut.Equal(got.CheckIn.Add(MaxOpenEpisode)) {
			t.Fatalf("%s: want closed at check-in+24h, got %+v", id, got.CheckOut)
		}
	}
	if got, _ := e.infos.Get(ctx, "open-now"); !got.IsCheckedIn() {
		t.Fatalf("newest open record closed")
	}
	if cores, _ := e.cores.List(ctx); len(cores) != 1 {
		t.Fatalf("want 1 fresh core, got %d", len(cores))
	}
	if st, _ := svc.State(ctx); st != model.CheckedIn {
		t.Fatalf("want checked in, got %s", st)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := e.service(t)
	if _, err := svc.CheckIn(ctx, e.table()); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if err := svc.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if st, _ := svc.State(ctx); st != model.NotCheckedIn {
		t.Fatalf("want not checked in, got %s", st)
	}
	if err := svc.CheckOut(ctx); !errors.Is(err, errs.ErrNotCheckedIn) {
		t.Fatalf("check-out after reset: %v", err)
	}
}
