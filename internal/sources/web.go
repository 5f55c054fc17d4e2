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

// WebSearch queries the Brave web search API. This is the broadest Stage-1
// source; it never produces deep-dive leads of its own.
type WebSearch struct {
	http    Doer
	baseURL string
}

func NewWebSearch(client Doer) *WebSearch {
	base := os.Getenv("BRAVE_API_BASE")
	if base == "" {
		base = "https://api.search.brave.com/res/v1"
	}
	return &WebSearch{http: client, baseURL: base}
}

func (w *WebSearch) Name() string { return "web" }

func (w *WebSearch) Available() bool {
	return os.Getenv("BRAVE_API_KEY") != ""
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (w *WebSearch) Lookup(ctx context.Context, query string) (*Result, error) {
	u := fmt.Sprintf("%s/web/search?q=%s&count=5", w.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("web: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", os.Getenv("BRAVE_API_KEY"))

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpStatusErr("web", resp.StatusCode)
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("web: decode response: %w", err)
	}
	if len(br.Web.Results) == 0 {
		return nil, fmt.Errorf("web: empty response")
	}

	var b strings.Builder
	for _, r := range br.Web.Results {
		fmt.Fprintf(&b, "- %s (%s)\n  %s\n", r.Title, r.URL, r.Description)
	}
	return &Result{Payload: b.String()}, nil
}
