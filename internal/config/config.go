package config

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Store    StoreConfig
	Sink     SinkConfig
	Twitch   TwitchConfig
	Kick     KickConfig
	Tier     string
	Bots     BotsConfig
	Backoff  time.Duration
	LivePoll time.Duration
	Sweep    SweepConfig
	Report   ReportConfig
	Notify   NotifyConfig
	HTTP     HTTPConfig
	Log      LogConfig
	OTLP     string
}

type StoreConfig struct {
	DSN string
}

type SinkConfig struct {
	BatchSize  int
	FlushMaxMS int
}

type TwitchConfig struct {
	Channels     []string
	Nick         string
	TLS          bool
	Addr         string
	ClientID     string
	ClientSecret string
	DebugDrops   bool
}

type KickConfig struct {
	Channels  []string
	APIBase   string
	PusherURL string
}

type BotsConfig struct {
	Names []string
	File  string
}

type SweepConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Batch      int
}

type ReportConfig struct {
	MinMessages int
	MinMinutes  int
}

type NotifyConfig struct {
	Default      string
	Addresses    string
	NATSURL      string
	WebhookToken string
}

type HTTPConfig struct {
	Addr        string
	RateRPS     int
	RateBurst   int
	AdminToken  string
	CORSOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	defaultDSN           = "streampulse.db"
	defaultBatchSize     = 50
	defaultFlushMS       = 1000
	defaultBackoffMS     = 3000
	defaultLivePoll      = time.Minute
	defaultSweepInterval = 30 * time.Minute
	defaultStaleAfter    = 12 * time.Hour
	defaultSweepBatch    = 50
	defaultMinMessages   = 10
	defaultMinMinutes    = 10
	defaultHTTPAddr      = ":8080"
	defaultRateRPS       = 20
	defaultRateBurst     = 40
)

func Load() Config {
	cfg := Config{}

	cfg.Store.DSN = readString("STREAMPULSE_STORE_DSN", defaultDSN)
	cfg.Sink.BatchSize = readInt("STREAMPULSE_SINK_BATCH_SIZE", defaultBatchSize)
	cfg.Sink.FlushMaxMS = readInt("STREAMPULSE_SINK_FLUSH_MAX_MS", defaultFlushMS)

	cfg.Twitch.Channels = splitList(os.Getenv("STREAMPULSE_TWITCH_CHANNELS"))
	cfg.Twitch.Nick = strings.TrimSpace(os.Getenv("STREAMPULSE_TWITCH_NICK"))
	cfg.Twitch.TLS = readBool("STREAMPULSE_TWITCH_TLS", true)
	cfg.Twitch.Addr = strings.TrimSpace(os.Getenv("STREAMPULSE_TWITCH_ADDR"))
	cfg.Twitch.ClientID = strings.TrimSpace(os.Getenv("STREAMPULSE_TWITCH_CLIENT_ID"))
	if cfg.Twitch.ClientID == "" {
		cfg.Twitch.ClientID = strings.TrimSpace(os.Getenv("TWITCH_CLIENT_ID"))
	}
	cfg.Twitch.ClientSecret = strings.TrimSpace(os.Getenv("STREAMPULSE_TWITCH_CLIENT_SECRET"))
	if cfg.Twitch.ClientSecret == "" {
		cfg.Twitch.ClientSecret = strings.TrimSpace(os.Getenv("TWITCH_CLIENT_SECRET"))
	}
	cfg.Twitch.DebugDrops = readBool("STREAMPULSE_TWITCH_DEBUG_DROPS", false)

	cfg.Kick.Channels = splitList(os.Getenv("STREAMPULSE_KICK_CHANNELS"))
	cfg.Kick.APIBase = strings.TrimSpace(os.Getenv("STREAMPULSE_KICK_API_BASE"))
	cfg.Kick.PusherURL = strings.TrimSpace(os.Getenv("STREAMPULSE_KICK_PUSHER_URL"))

	cfg.Tier = strings.ToLower(readString("STREAMPULSE_TIER", "free"))
	cfg.Bots.Names = splitList(os.Getenv("STREAMPULSE_BOTS"))
	cfg.Bots.File = strings.TrimSpace(os.Getenv("STREAMPULSE_BOTS_FILE"))

	cfg.Backoff = time.Duration(readInt("STREAMPULSE_RECONNECT_BACKOFF_MS", defaultBackoffMS)) * time.Millisecond
	cfg.LivePoll = readDuration("STREAMPULSE_LIVE_POLL_INTERVAL", defaultLivePoll)

	cfg.Sweep.Interval = readDuration("STREAMPULSE_SWEEP_INTERVAL", defaultSweepInterval)
	cfg.Sweep.StaleAfter = readDuration("STREAMPULSE_SWEEP_STALE_AFTER", defaultStaleAfter)
	cfg.Sweep.Batch = readInt("STREAMPULSE_SWEEP_BATCH", defaultSweepBatch)

	cfg.Report.MinMessages = readInt("STREAMPULSE_REPORT_MIN_MESSAGES", defaultMinMessages)
	cfg.Report.MinMinutes = readInt("STREAMPULSE_REPORT_MIN_MINUTES", defaultMinMinutes)

	cfg.Notify.Default = strings.TrimSpace(os.Getenv("STREAMPULSE_NOTIFY_DEFAULT"))
	cfg.Notify.Addresses = strings.TrimSpace(os.Getenv("STREAMPULSE_NOTIFY_ADDRESSES"))
	cfg.Notify.NATSURL = strings.TrimSpace(os.Getenv("STREAMPULSE_NATS_URL"))
	cfg.Notify.WebhookToken = strings.TrimSpace(os.Getenv("STREAMPULSE_WEBHOOK_TOKEN"))

	cfg.HTTP.Addr = readString("STREAMPULSE_HTTP_ADDR", defaultHTTPAddr)
	cfg.HTTP.RateRPS = readInt("STREAMPULSE_HTTP_RATE_RPS", defaultRateRPS)
	cfg.HTTP.RateBurst = readInt("STREAMPULSE_HTTP_RATE_BURST", defaultRateBurst)
	cfg.HTTP.AdminToken = strings.TrimSpace(os.Getenv("STREAMPULSE_ADMIN_TOKEN"))
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("STREAMPULSE_HTTP_CORS_ORIGINS"))

	cfg.Log.Level = strings.ToLower(readString("LOG_LEVEL", "info"))
	cfg.Log.Format = strings.ToLower(readString("LOG_FORMAT", "text"))
	cfg.OTLP = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))

	return cfg
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	return dedupe(parts)
}

// dedupe drops blanks and case-insensitive repeats and sorts the rest.
func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}

func readString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// readDuration accepts Go duration strings ("90s", "12h") or a bare number
// of seconds.
func readDuration(name string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func (c Config) FlushInterval() time.Duration {
	if c.Sink.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Sink.FlushMaxMS) * time.Millisecond
}

func (c Config) Batch() int {
	if c.Sink.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.Sink.BatchSize
}

func (c Config) MinDuration() time.Duration {
	return time.Duration(c.Report.MinMinutes) * time.Minute
}

// HelixEnabled reports whether Twitch live status can be polled.
func (c Config) HelixEnabled() bool {
	return c.Twitch.ClientID != "" && c.Twitch.ClientSecret != ""
}

func (c Config) Summary() Summary {
	return Summary{
		Store:      redactDSN(c.Store.DSN),
		BatchSize:  c.Sink.BatchSize,
		FlushMaxMS: c.Sink.FlushMaxMS,
		Twitch: TwitchSummary{
			Channels:     len(c.Twitch.Channels),
			TLS:          c.Twitch.TLS,
			ClientID:     redactString(c.Twitch.ClientID),
			ClientSecret: redactString(c.Twitch.ClientSecret),
			Helix:        c.HelixEnabled(),
		},
		Kick:          KickSummary{Channels: len(c.Kick.Channels)},
		Tier:          c.Tier,
		Bots:          len(c.Bots.Names),
		BotsFile:      c.Bots.File,
		SweepInterval: c.Sweep.Interval.String(),
		StaleAfter:    c.Sweep.StaleAfter.String(),
		NATS:          c.Notify.NATSURL != "",
		HTTPAddr:      c.HTTP.Addr,
		AdminToken:    redactString(c.HTTP.AdminToken),
	}
}

type Summary struct {
	Store         string        `json:"store"`
	BatchSize     int           `json:"batch"`
	FlushMaxMS    int           `json:"flush_ms"`
	Twitch        TwitchSummary `json:"twitch"`
	Kick          KickSummary   `json:"kick"`
	Tier          string        `json:"tier"`
	Bots          int           `json:"bots"`
	BotsFile      string        `json:"bots_file,omitempty"`
	SweepInterval string        `json:"sweep_interval"`
	StaleAfter    string        `json:"stale_after"`
	NATS          bool          `json:"nats"`
	HTTPAddr      string        `json:"http_addr"`
	AdminToken    string        `json:"admin_token,omitempty"`
}

type TwitchSummary struct {
	Channels     int    `json:"channels"`
	TLS          bool   `json:"tls"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Helix        bool   `json:"helix"`
}

type KickSummary struct {
	Channels int `json:"channels"`
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"store": map[string]any{
			"dsn":        redactDSN(c.Store.DSN),
			"batch_size": c.Sink.BatchSize,
			"flush_ms":   c.Sink.FlushMaxMS,
		},
		"twitch": map[string]any{
			"channels":      append([]string(nil), c.Twitch.Channels...),
			"nick":          c.Twitch.Nick,
			"tls":           c.Twitch.TLS,
			"addr":          c.Twitch.Addr,
			"client_id":     redactString(c.Twitch.ClientID),
			"client_secret": redactString(c.Twitch.ClientSecret),
			"helix":         c.HelixEnabled(),
		},
		"kick": map[string]any{
			"channels":   append([]string(nil), c.Kick.Channels...),
			"api_base":   c.Kick.APIBase,
			"pusher_url": c.Kick.PusherURL,
		},
		"tier":       c.Tier,
		"bots":       append([]string(nil), c.Bots.Names...),
		"bots_file":  c.Bots.File,
		"backoff_ms": c.Backoff.Milliseconds(),
		"live_poll":  c.LivePoll.String(),
		"sweep": map[string]any{
			"interval":    c.Sweep.Interval.String(),
			"stale_after": c.Sweep.StaleAfter.String(),
			"batch":       c.Sweep.Batch,
		},
		"report": map[string]any{
			"min_messages": c.Report.MinMessages,
			"min_minutes":  c.Report.MinMinutes,
		},
		"notify": map[string]any{
			"default":       c.Notify.Default,
			"addresses":     c.Notify.Addresses,
			"nats_url":      c.Notify.NATSURL,
			"webhook_token": redactString(c.Notify.WebhookToken),
		},
		"http": map[string]any{
			"addr":         c.HTTP.Addr,
			"rate_rps":     c.HTTP.RateRPS,
			"rate_burst":   c.HTTP.RateBurst,
			"admin_token":  redactString(c.HTTP.AdminToken),
			"cors_origins": append([]string(nil), c.HTTP.CORSOrigins...),
		},
		"log":  map[string]any{"level": c.Log.Level, "format": c.Log.Format},
		"otlp": c.OTLP,
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}

// redactDSN hides the password of a URL-style DSN and leaves file paths as
// they are.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return dsn
	}
	creds, host := rest[:at], rest[at+1:]
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return dsn
	}
	return scheme + "://" + user + ":***@" + host
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}
