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

// ArchiveSnapshot asks the Wayback Machine for the closest archived snapshot
// of a URL or domain mentioned in the query. Queries that don't look like a
// URL still go through; the archive simply reports no snapshot.
type ArchiveSnapshot struct {
	http    Doer
	baseURL string
}

func NewArchiveSnapshot(client Doer) *ArchiveSnapshot {
	base := os.Getenv("WAYBACK_API_BASE")
	if base == "" {
		base = "https://archive.org"
	}
	return &ArchiveSnapshot{http: client, baseURL: base}
}

func (a *ArchiveSnapshot) Name() string { return "archive" }

func (a *ArchiveSnapshot) Available() bool { return true }

type waybackResponse struct {
	ArchivedSnapshots struct {
		Closest struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

func (a *ArchiveSnapshot) Lookup(ctx context.Context, query string) (*Result, error) {
	target := firstURLish(query)
	u := fmt.Sprintf("%s/wayback/available?url=%s", a.baseURL, url.QueryEscape(target))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: build request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpStatusErr("archive", resp.StatusCode)
	}

	var wr waybackResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("archive: decode response: %w", err)
	}

	closest := wr.ArchivedSnapshots.Closest
	if !closest.Available {
		return nil, fmt.Errorf("archive: empty response")
	}
	payload := fmt.Sprintf("closest snapshot of %s: %s (captured %s)\n", target, closest.URL, closest.Timestamp)
	return &Result{Payload: payload}, nil
}

// firstURLish pulls the first token that looks like a URL or bare domain out
// of the query, falling back to the query itself.
func firstURLish(query string) string {
	for _, tok := range strings.Fields(query) {
		if strings.HasPrefix(tok, "http://") || strings.HasPrefix(tok, "https://") {
			return tok
		}
		if strings.Contains(tok, ".") && !strings.HasSuffix(tok, ".") {
			return tok
		}
	}
	return query
}
