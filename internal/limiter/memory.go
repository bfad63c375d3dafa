package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Memory is an in-process limiter: a token bucket per (scanner, client)
// bounds the submission rate, and a failure window triggers a lockout.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*entry
	limit    rate.Limit
	burst    int
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type entry struct {
	bucket       *rate.Limiter
	fails        int
	lastFail     time.Time
	blockedUntil time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-process limiter allowing limit submissions per
// second with the given burst.
func NewMemory(limit rate.Limit, burst int, window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		entries:  map[string]*entry{},
		limit:    limit,
		burst:    burst,
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
	}
}

func (m *Memory) get(scannerID string, clientHash []byte) *entry {
	k := scannerID + "\x00" + string(clientHash)
	e, ok := m.entries[k]
	if !ok {
		e = &entry{bucket: rate.NewLimiter(m.limit, m.burst)}
		m.entries[k] = e
	}
	return e
}

// Allow consumes one token unless the client is blocked.
func (m *Memory) Allow(_ context.Context, scannerID string, clientHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e := m.get(scannerID, clientHash)
	if e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	r := e.bucket.ReserveN(now, 1)
	if !r.OK() {
		return false, 0, nil
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d, nil
	}
	return true, 0, nil
}

// Success resets the failure counters.
func (m *Memory) Success(_ context.Context, scannerID string, clientHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(scannerID, clientHash)
	e.fails = 0
	e.blockedUntil = time.Time{}
	return nil
}

// Failure counts a rejected submission within the window.
func (m *Memory) Failure(_ context.Context, scannerID string, clientHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e := m.get(scannerID, clientHash)
	if now.Sub(e.lastFail) > m.window {
		e.fails = 0
	}
	e.fails++
	e.lastFail = now
	if e.fails < m.maxFails {
		return false, 0, nil
	}
	e.blockedUntil = now.Add(m.blockFor)
	return true, m.blockFor, nil
}
