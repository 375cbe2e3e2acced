package config

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"STREAMPULSE_STORE_DSN", "STREAMPULSE_SINK_BATCH_SIZE", "STREAMPULSE_SINK_FLUSH_MAX_MS",
	"STREAMPULSE_TWITCH_CHANNELS", "STREAMPULSE_TWITCH_NICK", "STREAMPULSE_TWITCH_TLS", "STREAMPULSE_TWITCH_ADDR",
	"STREAMPULSE_TWITCH_CLIENT_ID", "STREAMPULSE_TWITCH_CLIENT_SECRET", "TWITCH_CLIENT_ID", "TWITCH_CLIENT_SECRET",
	"STREAMPULSE_TWITCH_DEBUG_DROPS", "STREAMPULSE_KICK_CHANNELS", "STREAMPULSE_KICK_API_BASE", "STREAMPULSE_KICK_PUSHER_URL",
	"STREAMPULSE_TIER", "STREAMPULSE_BOTS", "STREAMPULSE_BOTS_FILE", "STREAMPULSE_RECONNECT_BACKOFF_MS",
	"STREAMPULSE_LIVE_POLL_INTERVAL", "STREAMPULSE_SWEEP_INTERVAL", "STREAMPULSE_SWEEP_STALE_AFTER", "STREAMPULSE_SWEEP_BATCH",
	"STREAMPULSE_REPORT_MIN_MESSAGES", "STREAMPULSE_REPORT_MIN_MINUTES", "STREAMPULSE_NOTIFY_DEFAULT",
	"STREAMPULSE_NOTIFY_ADDRESSES", "STREAMPULSE_NATS_URL", "STREAMPULSE_WEBHOOK_TOKEN", "STREAMPULSE_HTTP_ADDR",
	"STREAMPULSE_HTTP_RATE_RPS", "STREAMPULSE_HTTP_RATE_BURST", "STREAMPULSE_ADMIN_TOKEN", "STREAMPULSE_HTTP_CORS_ORIGINS",
	"LOG_LEVEL", "LOG_FORMAT", "OTEL_EXPORTER_OTLP_ENDPOINT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if cfg.Store.DSN != "streampulse.db" {
		t.Fatalf("unexpected dsn: %q", cfg.Store.DSN)
	}
	if cfg.Batch() != 50 || cfg.FlushInterval() != time.Second {
		t.Fatalf("sink defaults = %d %s", cfg.Batch(), cfg.FlushInterval())
	}
	if !cfg.Twitch.TLS {
		t.Fatalf("expected TLS on by default")
	}
	if cfg.Backoff != 3*time.Second {
		t.Fatalf("expected 3s backoff, got %s", cfg.Backoff)
	}
	if cfg.Sweep.Interval != 30*time.Minute || cfg.Sweep.StaleAfter != 12*time.Hour || cfg.Sweep.Batch != 50 {
		t.Fatalf("sweep defaults = %+v", cfg.Sweep)
	}
	if cfg.Report.MinMessages != 10 || cfg.MinDuration() != 10*time.Minute {
		t.Fatalf("report defaults = %+v", cfg.Report)
	}
	if cfg.Tier != "free" || cfg.HTTP.Addr != ":8080" || cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.HelixEnabled() {
		t.Fatalf("helix should be off without credentials")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STREAMPULSE_STORE_DSN", "postgres://pulse:hunter2@db:5432/pulse")
	t.Setenv("STREAMPULSE_SINK_BATCH_SIZE", "25")
	t.Setenv("STREAMPULSE_SINK_FLUSH_MAX_MS", "250")
	t.Setenv("STREAMPULSE_TWITCH_CHANNELS", "Elora, pulsecast;elora")
	t.Setenv("STREAMPULSE_TWITCH_TLS", "false")
	t.Setenv("TWITCH_CLIENT_ID", "legacy-id")
	t.Setenv("STREAMPULSE_TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("STREAMPULSE_KICK_CHANNELS", "kickster")
	t.Setenv("STREAMPULSE_TIER", "PRO")
	t.Setenv("STREAMPULSE_BOTS", "mybot othermod")
	t.Setenv("STREAMPULSE_RECONNECT_BACKOFF_MS", "500")
	t.Setenv("STREAMPULSE_LIVE_POLL_INTERVAL", "90")
	t.Setenv("STREAMPULSE_SWEEP_INTERVAL", "5m")
	t.Setenv("STREAMPULSE_SWEEP_STALE_AFTER", "nonsense")
	t.Setenv("STREAMPULSE_REPORT_MIN_MINUTES", "-3")
	t.Setenv("STREAMPULSE_HTTP_CORS_ORIGINS", "https://dash.example")

	cfg := Load()
	if cfg.Batch() != 25 || cfg.FlushInterval() != 250*time.Millisecond {
		t.Fatalf("sink overrides = %d %s", cfg.Batch(), cfg.FlushInterval())
	}
	if len(cfg.Twitch.Channels) != 2 || cfg.Twitch.Channels[0] != "Elora" {
		t.Fatalf("expected two deduped twitch channels, got %v", cfg.Twitch.Channels)
	}
	if cfg.Twitch.TLS {
		t.Fatalf("expected TLS disabled from env override")
	}
	if cfg.Twitch.ClientID != "legacy-id" || !cfg.HelixEnabled() {
		t.Fatalf("expected legacy client id fallback, got %q", cfg.Twitch.ClientID)
	}
	if cfg.Tier != "pro" || len(cfg.Bots.Names) != 2 || len(cfg.Kick.Channels) != 1 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.Backoff != 500*time.Millisecond || cfg.LivePoll != 90*time.Second || cfg.Sweep.Interval != 5*time.Minute {
		t.Fatalf("duration overrides = %s %s %s", cfg.Backoff, cfg.LivePoll, cfg.Sweep.Interval)
	}
	if cfg.Sweep.StaleAfter != 12*time.Hour {
		t.Fatalf("invalid duration should keep the default, got %s", cfg.Sweep.StaleAfter)
	}
	if cfg.Report.MinMinutes != 10 {
		t.Fatalf("negative minutes should keep the default, got %d", cfg.Report.MinMinutes)
	}
	if len(cfg.HTTP.CORSOrigins) != 1 {
		t.Fatalf("cors origins = %v", cfg.HTTP.CORSOrigins)
	}
}

func TestRedactedSnapshot(t *testing.T) {
	cfg := Config{
		Store:  StoreConfig{DSN: "postgres://pulse:hunter2@db:5432/pulse"},
		Twitch: TwitchConfig{Channels: []string{"elora"}, ClientID: "abcd", ClientSecret: "shh"},
		Notify: NotifyConfig{WebhookToken: "tok123", NATSURL: "nats://bus:4222"},
		HTTP:   HTTPConfig{Addr: ":8080", AdminToken: "admin-secret"},
	}

	summary := cfg.Summary()
	if summary.Store != "postgres://pulse:***@db:5432/pulse" {
		t.Fatalf("expected redacted dsn, got %q", summary.Store)
	}
	if summary.Twitch.ClientSecret != "***REDACTED*** (len=3)" || !summary.Twitch.Helix || !summary.NATS {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	redacted := cfg.Redacted()
	notifyRaw := redacted["notify"].(map[string]any)
	if notifyRaw["webhook_token"].(string) != "***REDACTED*** (len=6)" {
		t.Fatalf("unexpected redacted webhook token: %v", notifyRaw["webhook_token"])
	}
	httpRaw := redacted["http"].(map[string]any)
	if httpRaw["admin_token"].(string) != "***REDACTED*** (len=12)" {
		t.Fatalf("unexpected redacted admin token: %v", httpRaw["admin_token"])
	}
	for _, raw := range [][]byte{cfg.RedactedJSON(), cfg.SummaryJSON()} {
		if strings.Contains(string(raw), "hunter2") || strings.Contains(string(raw), "admin-secret") {
			t.Fatalf("secret leaked: %s", raw)
		}
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(cfg.SummaryJSON(), &wrapped); err != nil || wrapped["config_summary"] == nil {
		t.Fatalf("summary json = %s err=%v", cfg.SummaryJSON(), err)
	}
}

func TestRedactDSN(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"streampulse.db", "streampulse.db"},
		{"memory", "memory"},
		{"postgres://db/pulse", "postgres://db/pulse"},
		{"postgres://user@db/pulse", "postgres://user@db/pulse"},
		{"postgres://user:p@ss@db/pulse", "postgres://user:***@db/pulse"},
	}
	for _, tc := range cases {
		if got := redactDSN(tc.in); got != tc.want {
			t.Fatalf("redactDSN(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
