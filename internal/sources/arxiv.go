package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// PaperArchive queries the arXiv Atom API. The top Stage-1 hit becomes a
// "paper" lead; the follow-up query asks for more work by the same first
// author, which is what a human digging into a paper does next.
type PaperArchive struct {
	http    Doer
	baseURL string
}

func NewPaperArchive(client Doer) *PaperArchive {
	base := os.Getenv("ARXIV_API_BASE")
	if base == "" {
		base = "http://export.arxiv.org/api"
	}
	return &PaperArchive{http: client, baseURL: base}
}

func (p *PaperArchive) Name() string { return "paper-archive" }

func (p *PaperArchive) Available() bool { return true }

type arxivFeed struct {
	Entries []struct {
		ID      string `xml:"id"`
		Title   string `xml:"title"`
		Summary string `xml:"summary"`
		Authors []struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

func (p *PaperArchive) Lookup(ctx context.Context, query string) (*Result, error) {
	searchQuery := query
	// Stage-1 queries are plain text; arXiv follow-ups already carry field
	// prefixes like au: or all:.
	if !strings.Contains(query, ":") {
		searchQuery = fmt.Sprintf("all:%q", query)
	}

	u := fmt.Sprintf("%s/query?search_query=%s&max_results=5", p.baseURL, url.QueryEscape(searchQuery))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("paper-archive: build request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paper-archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpStatusErr("paper-archive", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("paper-archive: decode feed: %w", err)
	}
	if len(feed.Entries) == 0 {
		return nil, fmt.Errorf("paper-archive: empty response")
	}

	var b strings.Builder
	for _, e := range feed.Entries {
		title := strings.Join(strings.Fields(e.Title), " ")
		fmt.Fprintf(&b, "- %s\n  %s\n", title, e.ID)
	}

	result := &Result{Payload: b.String()}
	top := feed.Entries[0]
	if id := arxivID(top.ID); id != "" && len(top.Authors) > 0 {
		result.Leads = []Lead{{
			Kind:      "paper",
			ID:        id,
			Followups: []string{fmt.Sprintf("au:%q", top.Authors[0].Name)},
		}}
	}
	return result, nil
}

// arxivID extracts the bare identifier from an entry URL such as
// http://arxiv.org/abs/2403.01234v2.
func arxivID(entryURL string) string {
	i := strings.LastIndex(entryURL, "/abs/")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(entryURL[i+len("/abs/"):])
}
