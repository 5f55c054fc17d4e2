package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// CodeHost searches GitHub. Stage-1 searches repositories and surfaces the
// top hit as a "repository" lead; Stage-2 follow-ups arrive as "repo:<full
// name>" queries and search issues within that repository instead.
type CodeHost struct {
	http    Doer
	baseURL string
}

func NewCodeHost(client Doer) *CodeHost {
	base := os.Getenv("GITHUB_API_BASE")
	if base == "" {
		base = "https://api.github.com"
	}
	return &CodeHost{http: client, baseURL: base}
}

func (g *CodeHost) Name() string { return "code-host" }

// Available is always true: the GitHub search API accepts anonymous
// requests, the token only raises the rate limit.
func (g *CodeHost) Available() bool { return true }

type githubRepoSearch struct {
	Items []struct {
		FullName    string `json:"full_name"`
		HTMLURL     string `json:"html_url"`
		Description string `json:"description"`
		Stars       int    `json:"stargazers_count"`
	} `json:"items"`
}

type githubIssueSearch struct {
	Items []struct {
		Title   string `json:"title"`
		HTMLURL string `json:"html_url"`
		State   string `json:"state"`
	} `json:"items"`
}

func (g *CodeHost) Lookup(ctx context.Context, query string) (*Result, error) {
	if repo, ok := strings.CutPrefix(query, "repo:"); ok {
		return g.lookupIssues(ctx, repo)
	}
	return g.lookupRepositories(ctx, query)
}

func (g *CodeHost) lookupRepositories(ctx context.Context, query string) (*Result, error) {
	u := fmt.Sprintf("%s/search/repositories?q=%s&per_page=5&sort=stars", g.baseURL, url.QueryEscape(query))
	var rs githubRepoSearch
	if err := g.get(ctx, u, &rs); err != nil {
		return nil, err
	}
	if len(rs.Items) == 0 {
		return nil, fmt.Errorf("code-host: empty response")
	}

	var b strings.Builder
	for _, it := range rs.Items {
		fmt.Fprintf(&b, "- %s (%d stars) %s\n  %s\n", it.FullName, it.Stars, it.HTMLURL, it.Description)
	}

	top := rs.Items[0]
	result := &Result{
		Payload: b.String(),
		Leads: []Lead{{
			Kind:      "repository",
			ID:        top.FullName,
			Followups: []string{"repo:" + top.FullName},
		}},
	}
	return result, nil
}

func (g *CodeHost) lookupIssues(ctx context.Context, repo string) (*Result, error) {
	u := fmt.Sprintf("%s/search/issues?q=%s&per_page=5", g.baseURL, url.QueryEscape("repo:"+repo))
	var is githubIssueSearch
	if err := g.get(ctx, u, &is); err != nil {
		return nil, err
	}
	if len(is.Items) == 0 {
		return &Result{Payload: fmt.Sprintf("no open discussion found in %s\n", repo)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "recent issues in %s:\n", repo)
	for _, it := range is.Items {
		fmt.Fprintf(&b, "- [%s] %s\n  %s\n", it.State, it.Title, it.HTMLURL)
	}
	return &Result{Payload: b.String()}, nil
}

func (g *CodeHost) get(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("code-host: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("code-host: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpStatusErr("code-host", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("code-host: decode response: %w", err)
	}
	return nil
}
