package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestQueryFor(t *testing.T) {
	q := Query{
		Base:     "supply chain attack",
		Tailored: map[string]string{"code-host": "supply chain attack language:go"},
	}

	if got := q.For("code-host"); got != "supply chain attack language:go" {
		t.Errorf("expected tailored query, got %q", got)
	}
	if got := q.For("web"); got != "supply chain attack" {
		t.Errorf("expected base query for untailored source, got %q", got)
	}
}

func TestCodeHostRepositoryLead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/search/repositories") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"full_name":"acme/widget","html_url":"https://github.com/acme/widget","description":"widgets","stargazers_count":42}]}`))
	}))
	defer srv.Close()

	t.Setenv("GITHUB_API_BASE", srv.URL)
	gh := NewCodeHost(srv.Client())

	res, err := gh.Lookup(context.Background(), "widget framework")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(res.Leads) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(res.Leads))
	}
	lead := res.Leads[0]
	if lead.Kind != "repository" || lead.ID != "acme/widget" {
		t.Errorf("unexpected lead: %+v", lead)
	}
	if len(lead.Followups) != 1 || lead.Followups[0] != "repo:acme/widget" {
		t.Errorf("unexpected followups: %v", lead.Followups)
	}
	if !strings.Contains(res.Payload, "acme/widget") {
		t.Errorf("payload missing repository name: %q", res.Payload)
	}
}

func TestCodeHostFollowupSearchesIssues(t *testing.T) {
	var issuePath bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/search/issues") {
			issuePath = true
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"title":"panic on empty input","html_url":"https://github.com/acme/widget/issues/1","state":"open"}]}`))
	}))
	defer srv.Close()

	t.Setenv("GITHUB_API_BASE", srv.URL)
	gh := NewCodeHost(srv.Client())

	res, err := gh.Lookup(context.Background(), "repo:acme/widget")
	if err != nil {
		t.Fatalf("followup Lookup failed: %v", err)
	}
	if !issuePath {
		t.Error("expected followup to hit the issue search endpoint")
	}
	if len(res.Leads) != 0 {
		t.Errorf("followup lookups must not produce new leads, got %v", res.Leads)
	}
}

func TestWebSearchErrorStatuses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantSub string
	}{
		{"rate limited", http.StatusTooManyRequests, "rate limited"},
		{"auth failure", http.StatusUnauthorized, "auth failure"},
		{"server error", http.StatusInternalServerError, "unexpected status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			t.Setenv("BRAVE_API_BASE", srv.URL)
			t.Setenv("BRAVE_API_KEY", "test-key")
			ws := NewWebSearch(srv.Client())

			_, err := ws.Lookup(context.Background(), "anything")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("expected error containing %q, got %v", tt.wantSub, err)
			}
		})
	}
}

func TestWebSearchEmptyResponseIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[]}}`))
	}))
	defer srv.Close()

	t.Setenv("BRAVE_API_BASE", srv.URL)
	t.Setenv("BRAVE_API_KEY", "test-key")
	ws := NewWebSearch(srv.Client())

	_, err := ws.Lookup(context.Background(), "anything")
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Errorf("expected empty response error, got %v", err)
	}
}

func TestArxivID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://arxiv.org/abs/2403.01234v2", "2403.01234v2"},
		{"https://arxiv.org/abs/1706.03762", "1706.03762"},
		{"https://example.com/nope", ""},
	}
	for _, tt := range tests {
		if got := arxivID(tt.in); got != tt.want {
			t.Errorf("arxivID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFirstURLish(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"check https://example.com/page please", "https://example.com/page"},
		{"history of example.com site", "example.com"},
		{"no url here", "no url here"},
	}
	for _, tt := range tests {
		if got := firstURLish(tt.in); got != tt.want {
			t.Errorf("firstURLish(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAvailabilityFollowsCredentials(t *testing.T) {
	t.Setenv("BRAVE_API_KEY", "")
	if NewWebSearch(http.DefaultClient).Available() {
		t.Error("web search should be unavailable without BRAVE_API_KEY")
	}
	t.Setenv("BRAVE_API_KEY", "k")
	if !NewWebSearch(http.DefaultClient).Available() {
		t.Error("web search should be available with BRAVE_API_KEY")
	}

	t.Setenv("DISCORD_TOKEN", "tok")
	t.Setenv("DISCORD_GUILD_ID", "")
	if NewChatArchive(http.DefaultClient).Available() {
		t.Error("chat archive needs both token and guild id")
	}
}
