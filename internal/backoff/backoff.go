// Package backoff tracks per-backend rate-limit cooldown windows. The
// tracker is process-wide state shared by every session: a backend penalized
// during one session is still penalized for a session started moments later.
// It is constructed once and injected into the dispatcher, never a package
// global, so tests get a clean instance per run.
package backoff

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scour-dev/scour/internal/metrics"
)

// DefaultCooldown is the rate-limit cooldown window.
const DefaultCooldown = 120 * time.Second

// Entry is the mutable per-backend backoff record. The serialized form
// carries the last hit, total hits and multiplier; the active window end is
// derived from those on restore.
type Entry struct {
	LastHit    time.Time `json:"last_hit"`
	TotalHits  int       `json:"total_hits"`
	Multiplier float64   `json:"backoff_multiplier"`

	until time.Time
}

// Tracker owns the backoff map. All access goes through the mutex: two
// sessions dispatching at once must observe a consistent view, and a torn
// timestamp read is never acceptable.
type Tracker struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	cooldown time.Duration
	growth   float64 // window multiplier applied per repeated hit; 1.0 = fixed window
	logger   *zap.Logger

	now func() time.Time // swappable for tests
}

// NewTracker creates a backoff tracker. growth <= 1 keeps the fixed
// cooldown window on repeated hits.
func NewTracker(cooldown time.Duration, growth float64, logger *zap.Logger) *Tracker {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if growth < 1 {
		growth = 1
	}
	return &Tracker{
		entries:  make(map[string]*Entry),
		cooldown: cooldown,
		growth:   growth,
		logger:   logger,
		now:      time.Now,
	}
}

// Hit records a rate-limit signal for a backend and arms (or extends) its
// cooldown window. Returns the duration until the window closes. The window
// end is monotonically non-decreasing while hits continue.
func (t *Tracker) Hit(backend string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	e, found := t.entries[backend]
	if !found {
		e = &Entry{Multiplier: 1.0}
		t.entries[backend] = e
	}

	e.LastHit = now
	e.TotalHits++

	window := time.Duration(float64(t.cooldown) * e.Multiplier)
	until := now.Add(window)
	if until.After(e.until) {
		e.until = until
	}
	e.Multiplier *= t.growth

	t.logger.Warn("Backoff armed",
		zap.String("backend", backend),
		zap.Duration("window", window),
		zap.Int("total_hits", e.TotalHits),
	)
	metrics.BackoffArmed.WithLabelValues(backend).Inc()
	metrics.BackoffActive.Set(float64(t.activeLocked(now)))

	return time.Until(e.until)
}

// Active reports whether a backend is inside its cooldown window, and when
// the window ends. An expired entry is removed on the way out.
func (t *Tracker) Active(backend string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, found := t.entries[backend]
	if !found {
		return time.Time{}, false
	}

	now := t.now()
	if now.After(e.until) {
		delete(t.entries, backend)
		metrics.BackoffActive.Set(float64(t.activeLocked(now)))
		return time.Time{}, false
	}
	return e.until, true
}

// ActiveBackends returns the names of every backend currently in backoff.
func (t *Tracker) ActiveBackends() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var names []string
	for name, e := range t.entries {
		if !now.After(e.until) {
			names = append(names, name)
		}
	}
	return names
}

// Snapshot returns a copy of every non-expired entry for persistence.
func (t *Tracker) Snapshot() map[string]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make(map[string]Entry, len(t.entries))
	for name, e := range t.entries {
		if now.After(e.until) {
			continue
		}
		out[name] = *e
	}
	return out
}

// Restore merges persisted entries into the tracker, re-deriving each
// window end from its last hit. Entries whose window already closed are
// dropped.
func (t *Tracker) Restore(persisted map[string]Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for name, e := range persisted {
		mult := e.Multiplier
		if mult < 1 {
			mult = 1
		}
		until := e.LastHit.Add(time.Duration(float64(t.cooldown) * mult))
		if now.After(until) {
			continue
		}
		cp := e
		cp.until = until
		t.entries[name] = &cp
	}
	metrics.BackoffActive.Set(float64(t.activeLocked(now)))
}

func (t *Tracker) activeLocked(now time.Time) int {
	n := 0
	for _, e := range t.entries {
		if !now.After(e.until) {
			n++
		}
	}
	return n
}
