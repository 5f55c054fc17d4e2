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

// ChatArchive searches message history in a configured Discord guild. The
// channel carrying the top hit becomes a "channel" lead; the follow-up
// narrows the search to that channel.
type ChatArchive struct {
	http    Doer
	baseURL string
}

func NewChatArchive(client Doer) *ChatArchive {
	base := os.Getenv("DISCORD_API_BASE")
	if base == "" {
		base = "https://discord.com/api/v10"
	}
	return &ChatArchive{http: client, baseURL: base}
}

func (c *ChatArchive) Name() string { return "chat" }

func (c *ChatArchive) Available() bool {
	return os.Getenv("DISCORD_TOKEN") != "" && os.Getenv("DISCORD_GUILD_ID") != ""
}

type discordSearch struct {
	TotalResults int `json:"total_results"`
	Messages     [][]struct {
		ID        string `json:"id"`
		ChannelID string `json:"channel_id"`
		Content   string `json:"content"`
		Author    struct {
			Username string `json:"username"`
		} `json:"author"`
	} `json:"messages"`
}

func (c *ChatArchive) Lookup(ctx context.Context, query string) (*Result, error) {
	params := url.Values{}
	channelFollowup := false
	if channel, ok := strings.CutPrefix(query, "channel:"); ok {
		// "channel:<id> <content>" narrows a follow-up to one channel.
		id, rest, _ := strings.Cut(channel, " ")
		params.Set("channel_id", id)
		params.Set("content", rest)
		channelFollowup = true
	} else {
		params.Set("content", query)
	}

	u := fmt.Sprintf("%s/guilds/%s/messages/search?%s", c.baseURL, os.Getenv("DISCORD_GUILD_ID"), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("chat: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+os.Getenv("DISCORD_TOKEN"))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpStatusErr("chat", resp.StatusCode)
	}

	var ds discordSearch
	if err := json.NewDecoder(resp.Body).Decode(&ds); err != nil {
		return nil, fmt.Errorf("chat: decode response: %w", err)
	}
	if ds.TotalResults == 0 || len(ds.Messages) == 0 {
		return nil, fmt.Errorf("chat: empty response")
	}

	var b strings.Builder
	var topChannel string
	for _, group := range ds.Messages {
		for _, m := range group {
			snippet := m.Content
			if len(snippet) > 160 {
				snippet = snippet[:160] + "..."
			}
			fmt.Fprintf(&b, "- %s: %s\n", m.Author.Username, snippet)
			if topChannel == "" {
				topChannel = m.ChannelID
			}
		}
	}

	result := &Result{Payload: b.String()}
	if !channelFollowup && topChannel != "" {
		result.Leads = []Lead{{
			Kind:      "channel",
			ID:        topChannel,
			Followups: []string{fmt.Sprintf("channel:%s %s", topChannel, query)},
		}}
	}
	return result, nil
}
