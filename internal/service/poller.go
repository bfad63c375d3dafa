package service

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/metrics"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PollInterval is the default pace of background reconciliation.
const PollInterval = 30 * time.Second

// StatusFetcher reconciles local check-in state with the backend.
type StatusFetcher interface {
	FetchTraceStatus(ctx context.Context) (model.EpisodeState, error)
}

// Poller calls FetchTraceStatus at a bounded rate. Network failures are
// retried at RetryDelay until they succeed or the context ends.
type Poller struct {
	svc        StatusFetcher
	lim        *rate.Limiter
	retryDelay time.Duration
	log        *zap.Logger
	met        *metrics.Metrics
	onState    func(model.EpisodeState)
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithRetryDelay sets the pause between retries of a failed poll.
func WithRetryDelay(d time.Duration) PollerOption { return func(p *Poller) { p.retryDelay = d } }

// WithPollLogger sets the logger.
func WithPollLogger(l *zap.Logger) PollerOption { return func(p *Poller) { p.log = l } }

// WithPollMetrics counts failed polls on m.
func WithPollMetrics(m *metrics.Metrics) PollerOption { return func(p *Poller) { p.met = m } }

// WithStateHook is called with the state after each successful poll.
func WithStateHook(fn func(model.EpisodeState)) PollerOption {
	return func(p *Poller) { p.onState = fn }
}

// NewPoller constructs a poller running at most once per every.
func NewPoller(svc StatusFetcher, every time.Duration, opts ...PollerOption) *Poller {
	if every <= 0 {
		every = PollInterval
	}
	p := &Poller{
		svc:        svc,
		lim:        rate.NewLimiter(rate.Every(every), 1),
		retryDelay: time.Second,
		log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run polls until ctx is done. Only context cancellation ends it.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if err := p.lim.Wait(ctx); err != nil {
			return ctx.Err()
		}
		st, err := p.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn("trace status poll", zap.Error(err))
			continue
		}
		if p.onState != nil {
			p.onState(st)
		}
	}
}

// poll runs one reconciliation, retrying network failures.
func (p *Poller) poll(ctx context.Context) (model.EpisodeState, error) {
	var st model.EpisodeState
	err := retry.Do(ctx, retry.NewConstant(p.retryDelay), func(ctx context.Context) error {
		var err error
		st, err = p.svc.FetchTraceStatus(ctx)
		if err == nil {
			return nil
		}
		if errs.IsNetwork(err) {
			p.met.PollFailure()
			p.log.Debug("trace status poll retry", zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
	return st, err
}

// Wake runs one poll bounded by budget. It fails open: on any error or
// timeout it reports ok=false and the caller keeps its previous state.
func (p *Poller) Wake(ctx context.Context, budget time.Duration) (model.EpisodeState, bool) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	st, err := p.poll(ctx)
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			p.log.Warn("wake poll", zap.Error(err))
		}
		return st, false
	}
	if p.onState != nil {
		p.onState(st)
	}
	return st, true
}
