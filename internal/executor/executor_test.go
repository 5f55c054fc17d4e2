package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/scour-dev/scour/internal/session"
	"github.com/scour-dev/scour/internal/sources"
)

// concurrencyGauge counts simultaneous lookups across all clients that
// share it.
type concurrencyGauge struct {
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (g *concurrencyGauge) enter() {
	g.mu.Lock()
	g.active++
	if g.active > g.maxSeen {
		g.maxSeen = g.active
	}
	g.mu.Unlock()
}

func (g *concurrencyGauge) exit() {
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
}

func (g *concurrencyGauge) max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxSeen
}

// fakeClient is an in-package test double for a source client.
type fakeClient struct {
	name      string
	available bool
	delay     time.Duration
	result    *sources.Result
	err       error

	gauge *concurrencyGauge // optional, shared across clients

	mu      sync.Mutex
	queries []string
	active  int
	maxSeen int
}

func (f *fakeClient) Name() string    { return f.name }
func (f *fakeClient) Available() bool { return f.available }

func (f *fakeClient) Lookup(ctx context.Context, query string) (*sources.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()
	if f.gauge != nil {
		f.gauge.enter()
	}

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
		if f.gauge != nil {
			f.gauge.exit()
		}
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		cp := *f.result
		return &cp, nil
	}
	return &sources.Result{Payload: "payload from " + f.name}, nil
}

func newTestExecutor(t *testing.T, clients []sources.Client, cfg Config) (*Executor, *session.Tracker, string) {
	t.Helper()
	tracker := session.NewTracker(zaptest.NewLogger(t), nil)
	id, err := tracker.Start("supply chain attack")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return New(clients, tracker, cfg, zaptest.NewLogger(t)), tracker, id
}

func TestFanOutReturnsExactlyNEntries(t *testing.T) {
	clients := []sources.Client{
		&fakeClient{name: "web", available: true},
		&fakeClient{name: "code-host", available: true, err: errors.New("connection refused")},
		&fakeClient{name: "paper-archive", available: true},
		&fakeClient{name: "video", available: false},
		&fakeClient{name: "chat", available: true, err: errors.New("chat: rate limited (status 429)")},
	}
	exec, tracker, id := newTestExecutor(t, clients, DefaultConfig())

	rs := exec.FanOut(context.Background(), id, sources.Query{Base: "q"})

	if len(rs) != len(clients) {
		t.Fatalf("expected %d entries, got %d", len(clients), len(rs))
	}
	for _, c := range clients {
		if _, found := rs[c.Name()]; !found {
			t.Errorf("missing entry for source %s", c.Name())
		}
	}
	if rs["web"].OK != true || rs["code-host"].OK != false || rs["video"].OK != false {
		t.Errorf("unexpected ok flags: %+v", rs)
	}
	if rs["video"].Error == "" {
		t.Error("unavailable source should carry an error string")
	}

	sum, _ := tracker.Summary(id)
	if len(sum.Succeeded)+len(sum.Failed) != len(clients) {
		t.Errorf("every lookup must be recorded exactly once: %d succeeded + %d failed != %d",
			len(sum.Succeeded), len(sum.Failed), len(clients))
	}
}

func TestFanOutCapsSimultaneousLookups(t *testing.T) {
	gauge := &concurrencyGauge{}
	var clients []sources.Client
	for i := 0; i < 20; i++ {
		clients = append(clients, &fakeClient{
			name:      fmt.Sprintf("source-%02d", i),
			available: true,
			delay:     30 * time.Millisecond,
			gauge:     gauge,
		})
	}
	cfg := DefaultConfig()
	exec, _, id := newTestExecutor(t, clients, cfg)

	rs := exec.FanOut(context.Background(), id, sources.Query{Base: "q"})

	if len(rs) != len(clients) {
		t.Fatalf("expected %d entries, got %d", len(clients), len(rs))
	}
	if got := gauge.max(); got > cfg.Workers {
		t.Errorf("saw %d simultaneous lookups, pool width is %d", got, cfg.Workers)
	}
	if gauge.max() == 0 {
		t.Error("gauge never observed a lookup")
	}
}

func TestFanOutLatencyBoundedByLookupTimeout(t *testing.T) {
	clients := []sources.Client{
		&fakeClient{name: "web", available: true},
		&fakeClient{name: "slow", available: true, delay: 10 * time.Second},
	}
	cfg := DefaultConfig()
	cfg.LookupTimeout = 100 * time.Millisecond
	exec, _, id := newTestExecutor(t, clients, cfg)

	start := time.Now()
	rs := exec.FanOut(context.Background(), id, sources.Query{Base: "q"})
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Errorf("fan-out took %v, should be bounded by the per-lookup timeout", elapsed)
	}
	if rs["slow"].OK {
		t.Error("hung source should have failed with a timeout")
	}
}

func TestFanOutUsesTailoredQueries(t *testing.T) {
	web := &fakeClient{name: "web", available: true}
	gh := &fakeClient{name: "code-host", available: true}
	exec, _, id := newTestExecutor(t, []sources.Client{web, gh}, DefaultConfig())

	q := sources.Query{
		Base:     "supply chain attack",
		Tailored: map[string]string{"code-host": "supply chain attack language:go"},
	}
	exec.FanOut(context.Background(), id, q)

	if len(gh.queries) != 1 || gh.queries[0] != "supply chain attack language:go" {
		t.Errorf("code-host should receive the tailored query, got %v", gh.queries)
	}
	if len(web.queries) != 1 || web.queries[0] != "supply chain attack" {
		t.Errorf("web should receive the base query, got %v", web.queries)
	}
}

func TestFanOutEmitsOneSpanPerLookup(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	clients := []sources.Client{
		&fakeClient{name: "web", available: true},
		&fakeClient{name: "paper-archive", available: true},
		&fakeClient{name: "video", available: false},
	}
	exec, _, id := newTestExecutor(t, clients, DefaultConfig())

	exec.FanOut(context.Background(), id, sources.Query{Base: "q"})

	var lookups int
	for _, s := range recorder.Ended() {
		if s.Name() == "scour.lookup" {
			lookups++
		}
	}
	// The unavailable source is skipped before any lookup starts.
	if lookups != 2 {
		t.Errorf("expected 2 lookup spans, got %d", lookups)
	}
}

func TestDeepDiveOnlyQualifyingSource(t *testing.T) {
	gh := &fakeClient{name: "code-host", available: true}
	others := []*fakeClient{
		{name: "web", available: true},
		{name: "paper-archive", available: true},
		{name: "video", available: true},
		{name: "chat", available: true},
	}
	clients := []sources.Client{gh}
	for _, o := range others {
		clients = append(clients, o)
	}
	exec, _, id := newTestExecutor(t, clients, DefaultConfig())

	rs := sources.ResultSet{
		"code-host": {
			Source: "code-host", OK: true,
			Leads: []sources.Lead{{Kind: "repository", ID: "acme/widget", Followups: []string{"repo:acme/widget"}}},
		},
		"web":           {Source: "web", OK: true},
		"paper-archive": {Source: "paper-archive", OK: true},
		"video":         {Source: "video", OK: false, Error: "boom"},
		"chat":          {Source: "chat", OK: true},
	}

	dives := exec.DeepDive(context.Background(), id, rs)

	if len(dives) != 1 {
		t.Fatalf("expected exactly 1 deep dive, got %d", len(dives))
	}
	if len(gh.queries) != 1 || gh.queries[0] != "repo:acme/widget" {
		t.Errorf("expected one follow-up against code-host, got %v", gh.queries)
	}
	for _, o := range others {
		if len(o.queries) != 0 {
			t.Errorf("source %s should not have been deep-dived, got %v", o.name, o.queries)
		}
	}
}

func TestDeepDiveSequentialPerSource(t *testing.T) {
	gh := &fakeClient{name: "code-host", available: true, delay: 20 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.MaxFollowups = 3
	cfg.FollowupInterval = 0
	exec, _, id := newTestExecutor(t, []sources.Client{gh}, cfg)

	rs := sources.ResultSet{
		"code-host": {
			Source: "code-host", OK: true,
			Leads: []sources.Lead{{
				Kind: "repository", ID: "acme/widget",
				Followups: []string{"repo:a/a", "repo:b/b", "repo:c/c"},
			}},
		},
	}
	exec.DeepDive(context.Background(), id, rs)

	gh.mu.Lock()
	defer gh.mu.Unlock()
	if gh.maxSeen > 1 {
		t.Errorf("follow-ups against one source must run sequentially, saw %d concurrent", gh.maxSeen)
	}
	if len(gh.queries) != 3 {
		t.Errorf("expected 3 follow-ups, got %d", len(gh.queries))
	}
}

func TestDeepDiveFailuresDoNotAbort(t *testing.T) {
	gh := &fakeClient{name: "code-host", available: true, err: errors.New("boom")}
	paper := &fakeClient{name: "paper-archive", available: true}
	exec, tracker, id := newTestExecutor(t, []sources.Client{gh, paper}, DefaultConfig())

	rs := sources.ResultSet{
		"code-host": {
			Source: "code-host", OK: true,
			Leads: []sources.Lead{{Kind: "repository", ID: "a/a", Followups: []string{"repo:a/a"}}},
		},
		"paper-archive": {
			Source: "paper-archive", OK: true,
			Leads: []sources.Lead{{Kind: "paper", ID: "2403.01234", Followups: []string{`au:"Jane Doe"`}}},
		},
	}
	dives := exec.DeepDive(context.Background(), id, rs)

	if len(dives) != 2 {
		t.Fatalf("expected 2 deep-dive results, got %d", len(dives))
	}
	var okCount, failCount int
	for _, d := range dives {
		if d.OK {
			okCount++
		} else {
			failCount++
		}
	}
	if okCount != 1 || failCount != 1 {
		t.Errorf("expected one success and one failure, got ok=%d fail=%d", okCount, failCount)
	}

	sum, _ := tracker.Summary(id)
	if sum.ErrorCount != 1 {
		t.Errorf("failed dive should be recorded, got %d error records", sum.ErrorCount)
	}
}

func TestQualifyingFollowups(t *testing.T) {
	failed := &sources.Result{OK: false, Leads: []sources.Lead{{ID: "x", Followups: []string{"q"}}}}
	if got := qualifyingFollowups(failed, 2); got != nil {
		t.Errorf("failed result must not qualify, got %v", got)
	}

	noLead := &sources.Result{OK: true}
	if got := qualifyingFollowups(noLead, 2); got != nil {
		t.Errorf("result without leads must not qualify, got %v", got)
	}

	capped := &sources.Result{OK: true, Leads: []sources.Lead{
		{ID: "x", Followups: []string{"a", "b", "c", "d"}},
	}}
	if got := qualifyingFollowups(capped, 2); len(got) != 2 {
		t.Errorf("followups should be capped at 2, got %v", got)
	}
}
