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

// BookIndex searches Open Library. No credential, no leads.
type BookIndex struct {
	http    Doer
	baseURL string
}

func NewBookIndex(client Doer) *BookIndex {
	base := os.Getenv("OPENLIBRARY_API_BASE")
	if base == "" {
		base = "https://openlibrary.org"
	}
	return &BookIndex{http: client, baseURL: base}
}

func (b *BookIndex) Name() string { return "books" }

func (b *BookIndex) Available() bool { return true }

type openLibrarySearch struct {
	Docs []struct {
		Title            string   `json:"title"`
		AuthorName       []string `json:"author_name"`
		FirstPublishYear int      `json:"first_publish_year"`
		Key              string   `json:"key"`
	} `json:"docs"`
}

func (b *BookIndex) Lookup(ctx context.Context, query string) (*Result, error) {
	u := fmt.Sprintf("%s/search.json?q=%s&limit=5", b.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("books: build request: %w", err)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("books: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpStatusErr("books", resp.StatusCode)
	}

	var ol openLibrarySearch
	if err := json.NewDecoder(resp.Body).Decode(&ol); err != nil {
		return nil, fmt.Errorf("books: decode response: %w", err)
	}
	if len(ol.Docs) == 0 {
		return nil, fmt.Errorf("books: empty response")
	}

	var sb strings.Builder
	for _, d := range ol.Docs {
		author := "unknown"
		if len(d.AuthorName) > 0 {
			author = d.AuthorName[0]
		}
		fmt.Fprintf(&sb, "- %s by %s (%d) https://openlibrary.org%s\n", d.Title, author, d.FirstPublishYear, d.Key)
	}
	return &Result{Payload: sb.String()}, nil
}
