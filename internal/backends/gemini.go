package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Gemini wraps the generateContent API. Reads GEMINI_API_KEY and
// GEMINI_API_BASE.
type Gemini struct {
	model   string
	apiKey  string
	baseURL string
	client  Doer
}

// NewGemini builds the Gemini backend for the given model.
func NewGemini(model string) *Gemini {
	return &Gemini{
		model:   model,
		apiKey:  os.Getenv("GEMINI_API_KEY"),
		baseURL: strings.TrimRight(envOr("GEMINI_API_BASE", "https://generativelanguage.googleapis.com"), "/"),
		client:  http.DefaultClient,
	}
}

// WithClient routes requests through c instead of http.DefaultClient.
func (b *Gemini) WithClient(c Doer) *Gemini {
	b.client = c
	return b
}

func (b *Gemini) Name() string    { return "gemini" }
func (b *Gemini) Available() bool { return b.apiKey != "" }

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (b *Gemini) Call(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", b.baseURL, b.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", statusErr("gemini", resp)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	var text strings.Builder
	for _, cand := range out.Candidates {
		for _, part := range cand.Content.Parts {
			text.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", emptyErr("gemini")
	}
	return text.String(), nil
}
