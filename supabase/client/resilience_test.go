package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRetryWaitIsBounded(t *testing.T) {
	r := Retry{Backoff: 10 * time.Millisecond, MaxBackoff: 40 * time.Millisecond}.withDefaults()
	for retry := 1; retry <= 70; retry++ {
		if d := r.wait(retry); d < 0 || d > r.MaxBackoff {
			t.Fatalf("wait(%d) = %v outside [0, %v]", retry, d, r.MaxBackoff)
		}
	}
	if d := (Retry{}).withDefaults(); d.Backoff <= 0 || d.MaxBackoff < d.Backoff {
		t.Errorf("defaults = %+v", d)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	var changes []BreakerState
	b := NewBreaker(BreakerConfig{Failures: 3, Cooldown: time.Minute, OnStateChange: func(_, to BreakerState) {
		changes = append(changes, to)
	}})

	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	if b.State() != BreakerClosed {
		t.Fatalf("a success should reset the failure count, state = %s", b.State())
	}
	b.Failure()
	if b.State() != BreakerOpen {
		t.Fatalf("State() = %s, want open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Allow() = %v, want ErrBreakerOpen", err)
	}
	if len(changes) != 1 || changes[0] != BreakerOpen {
		t.Errorf("state changes = %v", changes)
	}
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	b := NewBreaker(BreakerConfig{Failures: 1, Probes: 2, Cooldown: time.Second})
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Failure()
	now = now.Add(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after cooldown = %v", err)
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("State() = %s, want half-open", b.State())
	}
	b.Success()
	b.Success()
	if b.State() != BreakerClosed {
		t.Errorf("State() = %s, want closed", b.State())
	}

	b.Failure()
	now = now.Add(2 * time.Second)
	_ = b.Allow()
	b.Failure()
	if b.State() != BreakerOpen {
		t.Errorf("failed probe should reopen, state = %s", b.State())
	}
}

func TestTransportDoesNotRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := NewTransport(nil, Retry{}, BreakerConfig{})
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable || calls.Load() != 1 {
		t.Errorf("status %d after %d calls", resp.StatusCode, calls.Load())
	}
}

func TestTransportRetriesReads(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tr := NewTransport(nil, Retry{MaxRetries: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, BreakerConfig{})
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/rest/v1/posts", nil)
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	resp.Body.Close()

	stats := tr.Stats()
	if resp.StatusCode != http.StatusOK || stats.Retries != 2 || stats.State != BreakerClosed {
		t.Errorf("status %d, stats %+v", resp.StatusCode, stats)
	}
}

func TestTransportSendsWritesOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"user_id":"u1"}` {
			t.Errorf("body = %q", body)
		}
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := NewTransport(nil, Retry{MaxRetries: 2, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, BreakerConfig{})
	for _, method := range []string{http.MethodPost, http.MethodPatch} {
		calls.Store(0)
		req, _ := http.NewRequest(method, server.URL+"/rest/v1/rpc/increment_trust_level", strings.NewReader(`{"user_id":"u1"}`))
		resp, err := tr.RoundTrip(req)
		if err != nil {
			t.Fatalf("%s: RoundTrip() error = %v", method, err)
		}
		resp.Body.Close()
		if got := calls.Load(); got != 1 {
			t.Errorf("%s sent %d times, want 1", method, got)
		}
	}
	if got := tr.Stats().Retries; got != 0 {
		t.Errorf("Retries = %d, want 0", got)
	}
}

func TestTransportOpenBreakerShortCircuits(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := NewTransport(nil, Retry{}, BreakerConfig{Failures: 2, Cooldown: time.Hour})
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
		if resp, err := tr.RoundTrip(req); err == nil {
			resp.Body.Close()
		}
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	if _, err := tr.RoundTrip(req); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("RoundTrip() error = %v, want ErrBreakerOpen", err)
	}
	stats := tr.Stats()
	if calls.Load() != 2 || stats.Rejected != 1 || stats.State != BreakerOpen {
		t.Errorf("calls %d, stats %+v", calls.Load(), stats)
	}
}

func TestTransportStopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := NewTransport(nil, Retry{MaxRetries: 5, Backoff: time.Second}, BreakerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if _, err := tr.RoundTrip(req); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RoundTrip() error = %v, want deadline exceeded", err)
	}
}

func TestClientStats(t *testing.T) {
	plain, _ := New(Config{URL: "http://localhost", APIKey: "k"})
	if _, ok := plain.Stats(); ok {
		t.Error("Stats() reported a transport without Resilience")
	}
	guarded, _ := New(Config{URL: "http://localhost", APIKey: "k", Resilience: true})
	if s, ok := guarded.Stats(); !ok || s.State != BreakerClosed {
		t.Errorf("Stats() = %+v, %v", s, ok)
	}
}
