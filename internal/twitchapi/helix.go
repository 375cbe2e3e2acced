// Package twitchapi is a minimal Helix client for channel live status and
// viewer counts, authenticated with an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/you/streampulse/internal/livestatus"
)

const defaultTTL = 30 * time.Second

var (
	defaultBaseURL  = "https://api.twitch.tv/helix"
	defaultTokenURL = "https://id.twitch.tv/oauth2/token"
)

type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	// TTL bounds how long one status answer is reused.
	TTL time.Duration
	// HTTP is the transport used for both the token and Helix calls.
	HTTP *http.Client
}

type Client struct {
	clientID string
	baseURL  string
	ttl      time.Duration
	http     *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	status    livestatus.Status
	expiresAt time.Time
}

type helixStreamsResponse struct {
	Data []helixStream `json:"data"`
}

type helixStream struct {
	ID          string    `json:"id"`
	UserLogin   string    `json:"user_login"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

func New(cfg Config) (*Client, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || secret == "" {
		return nil, errors.New("twitchapi: client id and secret are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx := context.Background()
	if cfg.HTTP != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTP)
	}
	hc := cc.Client(ctx)
	hc.Timeout = 10 * time.Second

	return &Client{
		clientID: clientID,
		baseURL:  base,
		ttl:      ttl,
		http:     hc,
		cache:    make(map[string]cacheEntry),
	}, nil
}

// Status reports whether login is live and its current viewer count.
func (c *Client) Status(ctx context.Context, login string) (livestatus.Status, error) {
	login = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(login), "#"))
	if login == "" {
		return livestatus.Status{}, errors.New("twitchapi: login empty")
	}
	if st, ok := c.cached(login); ok {
		return st, nil
	}

	endpoint := c.baseURL + "/streams?" + url.Values{"user_login": {login}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return livestatus.Status{}, err
	}
	req.Header.Set("Client-Id", c.clientID)

	resp, err := c.http.Do(req)
	if err != nil {
		return livestatus.Status{}, fmt.Errorf("twitchapi: streams: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("twitchapi: close body", "err", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return livestatus.Status{}, fmt.Errorf("twitchapi: streams status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload helixStreamsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return livestatus.Status{}, fmt.Errorf("twitchapi: decode streams: %w", err)
	}

	var st livestatus.Status
	for _, s := range payload.Data {
		if s.Type == "live" && strings.EqualFold(s.UserLogin, login) {
			st = livestatus.Status{Live: true, ViewerCount: s.ViewerCount, Title: s.Title, StartedAt: s.StartedAt}
			break
		}
	}
	c.store(login, st)
	return st, nil
}

func (c *Client) cached(login string) (livestatus.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[login]
	if !ok || time.Now().After(entry.expiresAt) {
		return livestatus.Status{}, false
	}
	return entry.status, true
}

func (c *Client) store(login string, st livestatus.Status) {
	c.mu.Lock()
	c.cache[login] = cacheEntry{status: st, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}
