package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type tokenResponder struct {
	count *atomic.Int64
}

func (t tokenResponder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.count.Add(1)
	_ = r.ParseForm()
	if r.Form.Get("client_id") != "cid" || r.Form.Get("grant_type") != "client_credentials" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "token-123",
		"token_type":   "bearer",
		"expires_in":   3600,
	})
}

func newTestServer(t *testing.T, streamCalls *atomic.Int64) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	tokenCalls := &atomic.Int64{}
	mux := http.NewServeMux()
	mux.Handle("/oauth2/token", tokenResponder{count: tokenCalls})
	mux.HandleFunc("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		streamCalls.Add(1)
		if r.Header.Get("Client-Id") != "cid" || r.Header.Get("Authorization") != "Bearer token-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var data []map[string]any
		if r.URL.Query().Get("user_login") == "livechan" {
			data = append(data, map[string]any{
				"id":           "1",
				"user_login":   "livechan",
				"type":         "live",
				"title":        "speedruns",
				"viewer_count": 321,
				"started_at":   "2024-05-01T10:00:00Z",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, tokenCalls
}

func TestStatusLiveAndOffline(t *testing.T) {
	streamCalls := &atomic.Int64{}
	srv, tokenCalls := newTestServer(t, streamCalls)

	c, err := New(Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		BaseURL:      srv.URL + "/helix",
		TokenURL:     srv.URL + "/oauth2/token",
		HTTP:         srv.Client(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st, err := c.Status(ctx, "#LiveChan")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Live || st.ViewerCount != 321 || st.Title != "speedruns" {
		t.Fatalf("unexpected live status %+v", st)
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC); !st.StartedAt.Equal(want) {
		t.Fatalf("started at: want %v got %v", want, st.StartedAt)
	}

	off, err := c.Status(ctx, "quiet")
	if err != nil {
		t.Fatalf("status offline: %v", err)
	}
	if off.Live || off.ViewerCount != 0 {
		t.Fatalf("expected offline, got %+v", off)
	}

	if _, err := c.Status(ctx, "livechan"); err != nil {
		t.Fatalf("cached status: %v", err)
	}
	if n := streamCalls.Load(); n != 2 {
		t.Fatalf("expected cached second lookup, got %d helix calls", n)
	}
	if n := tokenCalls.Load(); n != 1 {
		t.Fatalf("expected one token fetch, got %d", n)
	}
}

func TestStatusUpstreamError(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/oauth2/token", tokenResponder{count: &atomic.Int64{}})
	mux.HandleFunc("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(Config{ClientID: "cid", ClientSecret: "secret", BaseURL: srv.URL + "/helix", TokenURL: srv.URL + "/oauth2/token"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Status(context.Background(), "chan"); err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(Config{ClientID: "cid"}); err == nil {
		t.Fatalf("expected error without secret")
	}
}
