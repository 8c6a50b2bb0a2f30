package client

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Retry configures retries of transient failures on reads. Zero MaxRetries
// disables them, which is the default: a gateway failure surfaces to the
// caller. Writes and procedure calls are never retried since the server may
// have committed them before failing.
type Retry struct {
	MaxRetries int
	// Backoff is the first wait; it doubles per attempt up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func (r Retry) withDefaults() Retry {
	if r.Backoff <= 0 {
		r.Backoff = 100 * time.Millisecond
	}
	if r.MaxBackoff < r.Backoff {
		r.MaxBackoff = 5 * time.Second
	}
	return r
}

// wait returns the pause before the given retry (1-based), with equal jitter.
func (r Retry) wait(retry int) time.Duration {
	d := r.Backoff << (retry - 1)
	if d <= 0 || d > r.MaxBackoff {
		d = r.MaxBackoff
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half+1)))
}

// retryStatus lists responses that mean the backend is briefly unavailable.
var retryStatus = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

// BreakerState is the state of a Breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig configures a Breaker. Zero fields take defaults.
type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the breaker.
	Failures int
	// Probes is the number of half-open successes that closes it again.
	Probes int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// OnStateChange is called outside the breaker's lock.
	OnStateChange func(from, to BreakerState)
}

// ErrBreakerOpen is returned without contacting the backend while the
// breaker is open.
var ErrBreakerOpen = errors.New("supabase: circuit breaker open")

// Breaker stops calls to a backend that keeps failing.
type Breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    BreakerState
	failures int
	probes   int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Failures <= 0 {
		cfg.Failures = 5
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: BreakerClosed, now: time.Now}
}

// Allow reports whether a call may proceed. An open breaker whose cooldown
// has elapsed moves to half-open and lets calls through as probes.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.set(BreakerHalfOpen)
		return nil
	}
	b.mu.Unlock()
	return nil
}

// Success records a healthy call.
func (b *Breaker) Success() {
	b.mu.Lock()
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		if b.probes++; b.probes >= b.cfg.Probes {
			b.set(BreakerClosed)
			return
		}
	}
	b.mu.Unlock()
}

// Failure records a call that found the backend unavailable.
func (b *Breaker) Failure() {
	b.mu.Lock()
	switch b.state {
	case BreakerClosed:
		if b.failures++; b.failures >= b.cfg.Failures {
			b.set(BreakerOpen)
			return
		}
	case BreakerHalfOpen:
		b.set(BreakerOpen)
		return
	}
	b.mu.Unlock()
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// set switches state and releases the lock held by the caller.
func (b *Breaker) set(to BreakerState) {
	from := b.state
	b.state = to
	b.failures, b.probes = 0, 0
	if to == BreakerOpen {
		b.openedAt = b.now()
	}
	hook := b.cfg.OnStateChange
	b.mu.Unlock()
	if hook != nil && from != to {
		hook(from, to)
	}
}

// Stats is a snapshot of a Transport's counters.
type Stats struct {
	Requests int64
	Retries  int64
	Rejected int64
	State    BreakerState
}

// Transport is an http.RoundTripper that guards base with a Breaker and
// retries transient failures of GET and HEAD requests. Every other method
// is sent once.
type Transport struct {
	base    http.RoundTripper
	retry   Retry
	breaker *Breaker

	requests atomic.Int64
	retries  atomic.Int64
	rejected atomic.Int64
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, retry Retry, breaker BreakerConfig) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, retry: retry.withDefaults(), breaker: NewBreaker(breaker)}
}

// RoundTrip implements http.RoundTripper. The last retryable response is
// returned as is so the caller can read the error body.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.requests.Add(1)
	if err := t.breaker.Allow(); err != nil {
		t.rejected.Add(1)
		return nil, err
	}

	maxRetries := t.retry.MaxRetries
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		out := req
		if attempt > 0 {
			t.retries.Add(1)
			select {
			case <-req.Context().Done():
				t.breaker.Failure()
				return nil, req.Context().Err()
			case <-time.After(t.retry.wait(attempt)):
			}
			out = req.Clone(req.Context())
		}

		resp, err := t.base.RoundTrip(out)
		last := attempt >= maxRetries
		switch {
		case err != nil:
			if transient(err) && !last {
				continue
			}
			if !errors.Is(err, context.Canceled) {
				t.breaker.Failure()
			}
			return nil, err
		case retryStatus[resp.StatusCode]:
			if !last {
				resp.Body.Close()
				continue
			}
			t.breaker.Failure()
			return resp, nil
		default:
			t.breaker.Success()
			return resp, nil
		}
	}
}

// Stats returns the transport's counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Requests: t.requests.Load(),
		Retries:  t.retries.Load(),
		Rejected: t.rejected.Load(),
		State:    t.breaker.State(),
	}
}

// transient reports whether a transport error is worth retrying: timeouts,
// and dial failures where nothing reached the server.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
