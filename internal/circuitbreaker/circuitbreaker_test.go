package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func testConfig() Config {
	return Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

var errBoom = errors.New("boom")

func fail(b *Breaker, t *testing.T) error {
	t.Helper()
	return b.Execute(context.Background(), func() error { return errBoom })
}

func succeed(b *Breaker, t *testing.T) error {
	t.Helper()
	return b.Execute(context.Background(), func() error { return nil })
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	b := New("web", testConfig(), zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		if err := fail(b, t); !errors.Is(err, errBoom) {
			t.Fatalf("failure %d: %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := succeed(b, t); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen while tripped, got %v", err)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	b := New("web", testConfig(), zaptest.NewLogger(t))

	fail(b, t)
	fail(b, t)
	succeed(b, t)
	fail(b, t)
	fail(b, t)

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed (streak was broken)", b.State())
	}
}

func TestRecoversThroughHalfOpen(t *testing.T) {
	b := New("web", testConfig(), zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		fail(b, t)
	}
	time.Sleep(60 * time.Millisecond)

	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", b.State())
	}
	succeed(b, t)
	succeed(b, t)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after probes succeed", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New("web", testConfig(), zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		fail(b, t)
	}
	time.Sleep(60 * time.Millisecond)
	fail(b, t)

	if b.State() != StateOpen {
		t.Errorf("state = %v, want open after half-open failure", b.State())
	}
}

func TestHTTPClientCountsServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client(), "web", zaptest.NewLogger(t))

	// 5xx responses are returned to the caller but trip the breaker.
	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := c.Do(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
	}
	if c.State() != StateOpen {
		t.Fatalf("state = %v, want open after repeated 5xx", c.State())
	}

	before := hits.Load()
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := c.Do(req); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if hits.Load() != before {
		t.Error("open breaker should not reach the server")
	}
}

func TestHTTPClientIgnoresClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client(), "web", zaptest.NewLogger(t))
	for i := 0; i < 10; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := c.Do(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
	}
	if c.State() != StateClosed {
		t.Errorf("state = %v, 4xx must not trip the breaker", c.State())
	}
}
