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

// ChatCompatible speaks the OpenAI chat-completions wire format, which
// OpenAI, DeepSeek and local Ollama servers all accept. One type covers all
// three; only the name, base URL and credential env vars differ.
type ChatCompatible struct {
	name      string
	model     string
	apiKey    string
	baseURL   string
	needsKey  bool
	client    Doer
	maxTokens int
}

// NewOpenAI builds the OpenAI backend. Reads OPENAI_API_KEY and
// OPENAI_API_BASE.
func NewOpenAI(model string) *ChatCompatible {
	return newChat("openai", model, os.Getenv("OPENAI_API_KEY"),
		envOr("OPENAI_API_BASE", "https://api.openai.com/v1"), true)
}

// NewDeepSeek builds the DeepSeek backend. Reads DEEPSEEK_API_KEY and
// DEEPSEEK_API_BASE.
func NewDeepSeek(model string) *ChatCompatible {
	return newChat("deepseek", model, os.Getenv("DEEPSEEK_API_KEY"),
		envOr("DEEPSEEK_API_BASE", "https://api.deepseek.com/v1"), true)
}

// NewOllama builds the local Ollama backend. No API key; availability
// follows OLLAMA_API_BASE being set.
func NewOllama(model string) *ChatCompatible {
	return newChat("ollama", model, "", os.Getenv("OLLAMA_API_BASE"), false)
}

func newChat(name, model, key, base string, needsKey bool) *ChatCompatible {
	return &ChatCompatible{
		name:      name,
		model:     model,
		apiKey:    key,
		baseURL:   strings.TrimRight(base, "/"),
		needsKey:  needsKey,
		client:    http.DefaultClient,
		maxTokens: 4096,
	}
}

// WithClient routes requests through c instead of http.DefaultClient.
func (b *ChatCompatible) WithClient(c Doer) *ChatCompatible {
	b.client = c
	return b
}

func (b *ChatCompatible) Name() string { return b.name }

func (b *ChatCompatible) Available() bool {
	if b.needsKey {
		return b.apiKey != ""
	}
	return b.baseURL != ""
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (b *ChatCompatible) Call(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:     b.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: b.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s: marshal request: %w", b.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", b.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", b.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", statusErr(b.name, resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", b.name, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", emptyErr(b.name)
	}
	return out.Choices[0].Message.Content, nil
}
