package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Webhook posts the report JSON to an HTTP endpoint.
type Webhook struct {
	token  string
	client *http.Client
}

// NewWebhook returns a webhook transport. A non-empty token is sent as a
// bearer credential.
func NewWebhook(token string) *Webhook {
	return &Webhook{
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Deliver(ctx context.Context, address string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", "streampulse-report")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	slog.Info("report posted to webhook", "host", req.URL.Host, "bytes", len(payload))
	return nil
}
