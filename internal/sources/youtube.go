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

// VideoPlatform queries the YouTube Data API. The channel behind the top
// Stage-1 hit becomes a "channel" lead; the follow-up lists more uploads
// from that channel.
type VideoPlatform struct {
	http    Doer
	baseURL string
}

func NewVideoPlatform(client Doer) *VideoPlatform {
	base := os.Getenv("YOUTUBE_API_BASE")
	if base == "" {
		base = "https://www.googleapis.com/youtube/v3"
	}
	return &VideoPlatform{http: client, baseURL: base}
}

func (v *VideoPlatform) Name() string { return "video" }

func (v *VideoPlatform) Available() bool {
	return os.Getenv("YOUTUBE_API_KEY") != ""
}

type youtubeSearch struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelID    string `json:"channelId"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
	} `json:"items"`
}

func (v *VideoPlatform) Lookup(ctx context.Context, query string) (*Result, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("maxResults", "5")
	params.Set("key", os.Getenv("YOUTUBE_API_KEY"))

	channelFollowup := false
	if channel, ok := strings.CutPrefix(query, "channel:"); ok {
		params.Set("channelId", channel)
		params.Set("order", "date")
		channelFollowup = true
	} else {
		params.Set("q", query)
	}

	u := fmt.Sprintf("%s/search?%s", v.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("video: build request: %w", err)
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpStatusErr("video", resp.StatusCode)
	}

	var ys youtubeSearch
	if err := json.NewDecoder(resp.Body).Decode(&ys); err != nil {
		return nil, fmt.Errorf("video: decode response: %w", err)
	}
	if len(ys.Items) == 0 {
		return nil, fmt.Errorf("video: empty response")
	}

	var b strings.Builder
	for _, it := range ys.Items {
		fmt.Fprintf(&b, "- %s (%s) https://youtu.be/%s\n", it.Snippet.Title, it.Snippet.ChannelTitle, it.ID.VideoID)
	}

	result := &Result{Payload: b.String()}
	if top := ys.Items[0]; !channelFollowup && top.Snippet.ChannelID != "" {
		result.Leads = []Lead{{
			Kind:      "channel",
			ID:        top.Snippet.ChannelID,
			Followups: []string{"channel:" + top.Snippet.ChannelID},
		}}
	}
	return result, nil
}
