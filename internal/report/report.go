// Package report builds the final artifact of a session: a draft assembled
// from every source result, passed once through the high-reasoning chain
// for synthesis. Synthesis failing is a soft degradation; the draft is
// always usable on its own.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scour-dev/scour/internal/dispatch"
	"github.com/scour-dev/scour/internal/metrics"
	"github.com/scour-dev/scour/internal/sources"
)

// SynthesisChain is the chain used for the synthesis pass.
const SynthesisChain = "high-reasoning"

// Report is the final output of one session.
type Report struct {
	SessionID   string    `json:"session_id"`
	Query       string    `json:"query"`
	Body        string    `json:"body"`
	Synthesized bool      `json:"synthesized"`
	Backend     string    `json:"backend,omitempty"`
	Partial     bool      `json:"partial,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Synthesizer composes drafts and runs the single synthesis dispatch.
type Synthesizer struct {
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
	chain      string
}

// NewSynthesizer creates a synthesizer dispatching through chain, or
// SynthesisChain when chain is empty.
func NewSynthesizer(d *dispatch.Dispatcher, logger *zap.Logger, chain string) *Synthesizer {
	if chain == "" {
		chain = SynthesisChain
	}
	return &Synthesizer{dispatcher: d, logger: logger, chain: chain}
}

// Synthesize builds the draft from all Stage-1 and Stage-2 results and runs
// exactly one dispatch through the synthesis chain. When the chain is
// exhausted the draft is returned alone, annotated that synthesis was
// unavailable. This never returns an error; degradation is expressed in the
// Report itself.
func (s *Synthesizer) Synthesize(ctx context.Context, sessionID, query string, stage1 sources.ResultSet, stage2 []*sources.Result) *Report {
	draft := s.Draft(query, stage1, stage2)
	rep := &Report{
		SessionID:   sessionID,
		Query:       query,
		GeneratedAt: time.Now(),
	}

	backend, text, err := s.dispatcher.Dispatch(ctx, sessionID, s.chain, synthesisPrompt(query, draft))
	if err != nil {
		s.logger.Warn("Synthesis unavailable, falling back to draft",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		metrics.SynthesisAttempts.WithLabelValues("degraded").Inc()
		rep.Body = "NOTE: synthesis unavailable (" + summarizeDispatchErr(err) + "); raw findings follow.\n\n" + draft
		return rep
	}

	metrics.SynthesisAttempts.WithLabelValues("ok").Inc()
	rep.Synthesized = true
	rep.Backend = backend
	rep.Body = strings.TrimSpace(text) + "\n\n---\n\n## Raw findings\n\n" + draft
	return rep
}

// Draft renders every result into one text artifact: successful payloads
// first (deduplicated), Stage-2 findings, then a failure appendix.
func (s *Synthesizer) Draft(query string, stage1 sources.ResultSet, stage2 []*sources.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research findings: %s\n", query)

	names := make([]string, 0, len(stage1))
	for name := range stage1 {
		names = append(names, name)
	}
	sort.Strings(names)

	kept := dedupe(collectPayloads(names, stage1))
	for _, p := range kept {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", p.source, strings.TrimSpace(p.text))
	}

	if len(stage2) > 0 {
		b.WriteString("\n## Deep-dive findings\n")
		for _, r := range stage2 {
			if !r.OK || strings.TrimSpace(r.Payload) == "" {
				continue
			}
			fmt.Fprintf(&b, "\n### %s\n\n%s\n", r.Source, strings.TrimSpace(r.Payload))
		}
	}

	var failed []string
	for _, name := range names {
		if r := stage1[name]; !r.OK {
			failed = append(failed, fmt.Sprintf("- %s: %s", name, r.Error))
		}
	}
	for _, r := range stage2 {
		if !r.OK {
			failed = append(failed, fmt.Sprintf("- %s (deep dive): %s", r.Source, r.Error))
		}
	}
	if len(failed) > 0 {
		b.WriteString("\n## Sources unavailable\n\n")
		b.WriteString(strings.Join(failed, "\n"))
		b.WriteString("\n")
	}

	return b.String()
}

func synthesisPrompt(query, draft string) string {
	return fmt.Sprintf(`You are a research analyst. Below are raw findings collected from multiple sources for the query %q. Synthesize them into a coherent report: lead with the key takeaways, group related findings, flag contradictions, and note which aspects of the query the findings do not cover. Do not invent facts not present in the findings.

%s`, query, draft)
}

func summarizeDispatchErr(err error) string {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

type payload struct {
	source string
	text   string
}

func collectPayloads(names []string, rs sources.ResultSet) []payload {
	var out []payload
	for _, name := range names {
		r := rs[name]
		if r.OK && strings.TrimSpace(r.Payload) != "" {
			out = append(out, payload{source: name, text: r.Payload})
		}
	}
	return out
}

// dedupe drops payloads that are near-duplicates of one already kept, so
// two sources mirroring the same content don't dominate the synthesis
// prompt.
func dedupe(payloads []payload) []payload {
	var kept []payload
	for _, candidate := range payloads {
		dup := false
		cTokens := tokenize(candidate.text)
		for _, existing := range kept {
			if jaccardSimilarity(cTokens, tokenize(existing.text)) > 0.85 {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func tokenize(text string) map[string]bool {
	tokens := strings.Fields(strings.ToLower(text))
	out := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		t = strings.Trim(t, ".,;:!?\"'()[]{}")
		if t != "" {
			out[t] = true
		}
	}
	return out
}

func jaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	union := len(a)
	for t := range b {
		if a[t] {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
