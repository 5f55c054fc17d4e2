package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/scour-dev/scour/internal/backends"
	"github.com/scour-dev/scour/internal/backoff"
	"github.com/scour-dev/scour/internal/errkind"
	"github.com/scour-dev/scour/internal/session"
)

// fakeBackend is a scriptable test double counting its calls.
type fakeBackend struct {
	name        string
	available   bool
	text        string
	err         error
	calls       int
	sawDeadline bool
}

func (f *fakeBackend) Name() string    { return f.name }
func (f *fakeBackend) Available() bool { return f.available }

func (f *fakeBackend) Call(ctx context.Context, prompt string) (string, error) {
	f.calls++
	_, f.sawDeadline = ctx.Deadline()
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func newTestDispatcher(t *testing.T, chains []Chain) (*Dispatcher, *session.Tracker, string) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	tracker := session.NewTracker(logger, nil)
	sid, err := tracker.Start("test query")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	bo := backoff.NewTracker(120*time.Second, 1.0, logger)
	d, err := New(chains, bo, tracker, logger)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d, tracker, sid
}

func TestFirstSuccessWins(t *testing.T) {
	a := &fakeBackend{name: "a", available: true, text: "from a"}
	b := &fakeBackend{name: "b", available: true, text: "from b"}
	d, _, sid := newTestDispatcher(t, []Chain{{Name: "default", Backends: []backends.Backend{a, b}}})

	name, text, err := d.Dispatch(context.Background(), sid, "default", "prompt")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if name != "a" || text != "from a" {
		t.Errorf("got %s/%q, want a/\"from a\"", name, text)
	}
	if b.calls != 0 {
		t.Errorf("b was called %d times after a succeeded", b.calls)
	}
}

func TestRateLimitArmsBackoffAndIsSkippedNextTime(t *testing.T) {
	a := &fakeBackend{name: "a", available: true, err: &backends.RateLimitError{Backend: "a", RetryAfter: 10 * time.Second}}
	b := &fakeBackend{name: "b", available: true, text: "from b"}
	c := &fakeBackend{name: "c", available: true, text: "from c"}
	d, tracker, sid := newTestDispatcher(t, []Chain{{Name: "default", Backends: []backends.Backend{a, b, c}}})

	name, text, err := d.Dispatch(context.Background(), sid, "default", "prompt")
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if name != "b" || text != "from b" {
		t.Fatalf("got %s/%q, want b", name, text)
	}

	// Second dispatch inside the cooldown window must not attempt a.
	aCallsBefore := a.calls
	if _, _, err := d.Dispatch(context.Background(), sid, "default", "prompt"); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if a.calls != aCallsBefore {
		t.Errorf("a attempted while in backoff: %d extra calls", a.calls-aCallsBefore)
	}

	sum, err := tracker.Summary(sid)
	if err != nil {
		t.Fatal(err)
	}
	if sum.RateLimitsHit["a"] != 1 {
		t.Errorf("rate limit hits for a = %d, want 1", sum.RateLimitsHit["a"])
	}
}

func TestAuthFailureDoesNotArmBackoff(t *testing.T) {
	a := &fakeBackend{name: "a", available: true, err: errkind.ErrAuthFailure}
	b := &fakeBackend{name: "b", available: true, text: "from b"}
	d, tracker, sid := newTestDispatcher(t, []Chain{{Name: "default", Backends: []backends.Backend{a, b}}})

	name, _, err := d.Dispatch(context.Background(), sid, "default", "prompt")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if name != "b" {
		t.Fatalf("got backend %s, want b", name)
	}

	if _, active := d.backoff.Active("a"); active {
		t.Error("auth failure must not create a backoff entry")
	}

	snap, err := tracker.Snapshot(sid)
	if err != nil {
		t.Fatal(err)
	}
	authRecords := 0
	for _, rec := range snap.ErrorLog {
		if rec.Component == "backend:a" && rec.ErrorType == errkind.AuthFailure.String() {
			authRecords++
		}
	}
	if authRecords != 1 {
		t.Errorf("a logged %d times as AuthFailure, want exactly 1", authRecords)
	}

	// A failed once but is attempted again on the next dispatch.
	if _, _, err := d.Dispatch(context.Background(), sid, "default", "prompt"); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if a.calls != 2 {
		t.Errorf("a calls = %d, want 2", a.calls)
	}
}

func TestExhaustedErrorEnumeratesEveryBackend(t *testing.T) {
	a := &fakeBackend{name: "a", available: true, err: errors.New("connection refused")}
	b := &fakeBackend{name: "b", available: false}
	c := &fakeBackend{name: "c", available: true, err: &backends.RateLimitError{Backend: "c"}}
	d, _, sid := newTestDispatcher(t, []Chain{{Name: "default", Backends: []backends.Backend{a, b, c}}})

	_, _, err := d.Dispatch(context.Background(), sid, "default", "prompt")
	if err == nil {
		t.Fatal("expected exhausted error")
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected *ExhaustedError, got %T", err)
	}
	if len(ex.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(ex.Attempts))
	}
	if len(ex.Skipped) != 1 {
		t.Errorf("skipped = %d, want 1", len(ex.Skipped))
	}
	for _, name := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error message missing backend %q: %s", name, err)
		}
	}
}

func TestBackoffSkipAppearsInExhaustedError(t *testing.T) {
	a := &fakeBackend{name: "a", available: true, err: &backends.RateLimitError{Backend: "a"}}
	d, _, sid := newTestDispatcher(t, []Chain{{Name: "default", Backends: []backends.Backend{a}}})

	if _, _, err := d.Dispatch(context.Background(), sid, "default", "prompt"); err == nil {
		t.Fatal("expected first dispatch to exhaust")
	}

	_, _, err := d.Dispatch(context.Background(), sid, "default", "prompt")
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected *ExhaustedError, got %v", err)
	}
	if len(ex.Skipped) != 1 || !strings.Contains(ex.Skipped[0].Reason, "backoff") {
		t.Errorf("expected a skipped with a backoff reason, got %+v", ex.Skipped)
	}
	if a.calls != 1 {
		t.Errorf("a calls = %d, want 1 (second dispatch must skip)", a.calls)
	}
}

func TestUnknownChain(t *testing.T) {
	a := &fakeBackend{name: "a", available: true, text: "x"}
	d, _, sid := newTestDispatcher(t, []Chain{{Name: "default", Backends: []backends.Backend{a}}})

	if _, _, err := d.Dispatch(context.Background(), sid, "no-such-chain", "prompt"); err == nil {
		t.Error("expected error for unknown chain")
	}
}

func TestCallCarriesTimeout(t *testing.T) {
	a := &fakeBackend{name: "a", available: true, text: "x"}
	d, _, sid := newTestDispatcher(t, []Chain{{
		Name:     "fast",
		Backends: []backends.Backend{a},
		Timeout:  5 * time.Second,
	}})

	if _, _, err := d.Dispatch(context.Background(), sid, "fast", "prompt"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !a.sawDeadline {
		t.Error("backend call context should carry a deadline")
	}
}
