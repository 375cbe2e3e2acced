package kick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/you/streampulse/internal/livestatus"
)

const defaultAPIBase = "https://kick.com"

var ErrChannelNotFound = errors.New("kick: channel not found")

// Channel is the subset of the channel lookup the connector needs.
type Channel struct {
	Slug        string
	ChatroomID  int64
	Live        bool
	ViewerCount int
	Title       string
	StartedAt   time.Time
}

type channelResponse struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int64 `json:"id"`
	} `json:"chatroom"`
	Livestream *struct {
		IsLive       bool   `json:"is_live"`
		ViewerCount  int    `json:"viewer_count"`
		SessionTitle string `json:"session_title"`
		CreatedAt    string `json:"created_at"`
	} `json:"livestream"`
}

// Resolver maps a channel slug to its chatroom and live state.
type Resolver struct {
	http *http.Client
	base string
}

// NewResolver creates a resolver. A nil client gets a default with a short
// timeout; an empty base uses kick.com.
func NewResolver(client *http.Client, base string) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = defaultAPIBase
	}
	return &Resolver{http: client, base: base}
}

func (r *Resolver) Resolve(ctx context.Context, slug string) (Channel, error) {
	slug = normalizeSlug(slug)
	if slug == "" {
		return Channel{}, errors.New("kick: empty channel")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/api/v2/channels/"+url.PathEscape(slug), nil)
	if err != nil {
		return Channel{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; streampulse/1.0)")

	resp, err := r.http.Do(req)
	if err != nil {
		return Channel{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Channel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, slug)
	}
	if resp.StatusCode >= 400 {
		return Channel{}, fmt.Errorf("kick: resolve status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return Channel{}, err
	}
	var payload channelResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Channel{}, fmt.Errorf("kick: parse channel: %w", err)
	}
	if payload.Chatroom.ID == 0 {
		return Channel{}, fmt.Errorf("%w: %s has no chatroom", ErrChannelNotFound, slug)
	}

	ch := Channel{Slug: slug, ChatroomID: payload.Chatroom.ID}
	if ls := payload.Livestream; ls != nil && ls.IsLive {
		ch.Live = true
		ch.ViewerCount = ls.ViewerCount
		ch.Title = ls.SessionTitle
		ch.StartedAt = parseKickTime(ls.CreatedAt)
	}
	return ch, nil
}

// Status adapts Resolve to the live status lookup.
func (r *Resolver) Status(ctx context.Context, slug string) (livestatus.Status, error) {
	ch, err := r.Resolve(ctx, slug)
	if err != nil {
		return livestatus.Status{}, err
	}
	return livestatus.Status{Live: ch.Live, ViewerCount: ch.ViewerCount, Title: ch.Title, StartedAt: ch.StartedAt}, nil
}

func normalizeSlug(s string) string {
	s = strings.TrimSpace(s)
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		s = strings.Trim(u.Path, "/")
	}
	return strings.ToLower(strings.Trim(s, "/@ "))
}

// parseKickTime accepts the RFC 3339 and "2006-01-02 15:04:05" (UTC) forms
// Kick uses in different payloads.
func parseKickTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
