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

// Anthropic wraps the Messages API. Reads ANTHROPIC_API_KEY and
// ANTHROPIC_API_BASE.
type Anthropic struct {
	model     string
	apiKey    string
	baseURL   string
	client    Doer
	maxTokens int
}

// NewAnthropic builds the Anthropic backend for the given model.
func NewAnthropic(model string) *Anthropic {
	return &Anthropic{
		model:     model,
		apiKey:    os.Getenv("ANTHROPIC_API_KEY"),
		baseURL:   strings.TrimRight(envOr("ANTHROPIC_API_BASE", "https://api.anthropic.com"), "/"),
		client:    http.DefaultClient,
		maxTokens: 8192,
	}
}

// WithClient routes requests through c instead of http.DefaultClient.
func (b *Anthropic) WithClient(c Doer) *Anthropic {
	b.client = c
	return b
}

func (b *Anthropic) Name() string    { return "anthropic" }
func (b *Anthropic) Available() bool { return b.apiKey != "" }

type anthropicRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (b *Anthropic) Call(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     b.model,
		MaxTokens: b.maxTokens,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("anthropic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", b.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", statusErr("anthropic", resp)
	}

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("anthropic: decode response: %w", err)
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", emptyErr("anthropic")
	}
	return text.String(), nil
}
