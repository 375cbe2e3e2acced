// Command streampulse ingests live chat for the configured Twitch and Kick
// channels, keeps one session per live stream, and produces an end-of-stream
// report when a stream ends or is recovered by the periodic sweep.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/you/streampulse/internal/botlist"
	"github.com/you/streampulse/internal/classify"
	"github.com/you/streampulse/internal/config"
	"github.com/you/streampulse/internal/connector"
	"github.com/you/streampulse/internal/core"
	"github.com/you/streampulse/internal/httpapi"
	"github.com/you/streampulse/internal/ingest"
	"github.com/you/streampulse/internal/insight"
	"github.com/you/streampulse/internal/kick"
	"github.com/you/streampulse/internal/livestatus"
	"github.com/you/streampulse/internal/notify"
	"github.com/you/streampulse/internal/recovery"
	"github.com/you/streampulse/internal/report"
	"github.com/you/streampulse/internal/store"
	"github.com/you/streampulse/internal/telemetry"
	"github.com/you/streampulse/internal/twitchapi"
	"github.com/you/streampulse/internal/twitchirc"
	"github.com/you/streampulse/internal/version"
)

func main() {
	_ = godotenv.Load()

	var (
		versionFlag bool
		storeDSN    string
		twChannels  string
		kickChans   string
		httpAddr    string
		adminToken  string
		sweepOnly   bool
	)
	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&storeDSN, "store", "", "Store DSN: SQLite path, postgres:// URL or \"memory\"")
	flag.StringVar(&twChannels, "twitch-channels", "", "Comma-separated Twitch channels to watch")
	flag.StringVar(&kickChans, "kick-channels", "", "Comma-separated Kick channels to watch")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (e.g., :8080)")
	flag.StringVar(&adminToken, "admin-token", "", "Bearer token required by /admin routes")
	flag.BoolVar(&sweepOnly, "sweep-once", false, "Run one recovery sweep and exit")
	flag.Parse()

	if versionFlag {
		fmt.Printf("streampulse version: %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildTime)
		os.Exit(0)
	}

	cfg := config.Load()
	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { overrides[f.Name] = true })
	if overrides["store"] {
		cfg.Store.DSN = strings.TrimSpace(storeDSN)
	}
	if overrides["twitch-channels"] {
		cfg.Twitch.Channels = strings.Split(twChannels, ",")
	}
	if overrides["kick-channels"] {
		cfg.Kick.Channels = strings.Split(kickChans, ",")
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["admin-token"] {
		cfg.HTTP.AdminToken = strings.TrimSpace(adminToken)
	}

	setupLogger(cfg.Log)
	slog.Info("streampulse starting", "version", version.Version, "commit", version.Commit)
	slog.Info("config", "summary", string(cfg.SummaryJSON()))
	slog.Debug("config detail", "redacted", string(cfg.RedactedJSON()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sweepOnly); err != nil {
		slog.Error("streampulse exited", "err", err)
		os.Exit(1)
	}
}

func setupLogger(lc config.LogConfig) {
	lvl := slog.LevelInfo
	switch lc.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", "value", lc.Level)
	}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}

func run(ctx context.Context, cfg config.Config, sweepOnly bool) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger := slog.Default()
	metrics := telemetry.NewMetrics()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLP, "streampulse", version.Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracing()

	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("store close", "err", err)
		}
	}()

	bots := botlist.New(cfg.Bots.Names...)
	if cfg.Bots.File != "" {
		if err := bots.Watch(ctx, cfg.Bots.File); err != nil {
			slog.Warn("bot list file unavailable", "path", cfg.Bots.File, "err", err)
		}
	}

	kickResolver := kick.NewResolver(nil, cfg.Kick.APIBase)
	live := livestatus.New(10 * time.Second)
	live.Register(core.PlatformKick, kickResolver)
	if cfg.HelixEnabled() {
		helix, err := twitchapi.New(twitchapi.Config{ClientID: cfg.Twitch.ClientID, ClientSecret: cfg.Twitch.ClientSecret})
		if err != nil {
			return fmt.Errorf("twitch helix: %w", err)
		}
		live.Register(core.PlatformTwitch, helix)
	} else if len(cfg.Twitch.Channels) > 0 {
		slog.Warn("twitch client credentials missing; twitch channels are ingested continuously")
	}

	router := notify.NewRouter(metrics)
	router.Handle(notify.NewWebhook(cfg.Notify.WebhookToken), "http", "https")
	if cfg.Notify.NATSURL != "" {
		nc, err := notify.DialNATS(cfg.Notify.NATSURL)
		if err != nil {
			slog.Warn("nats unavailable; nats report delivery disabled", "err", err)
		} else {
			defer nc.Close()
			router.Handle(nc, "nats")
		}
	}
	addresses, err := notify.ParseAddressBook(cfg.Notify.Addresses, cfg.Notify.Default)
	if err != nil {
		return fmt.Errorf("notify addresses: %w", err)
	}

	builder := &report.Builder{
		Sessions: st,
		Events:   st,
		Comparer: &insight.Comparer{History: st, Logger: logger},
		Logger:   logger,
	}
	finalizer := &report.Finalizer{
		Store:       st,
		Builder:     builder,
		Notifier:    router,
		Addresses:   addresses,
		MinMessages: cfg.Report.MinMessages,
		MinDuration: cfg.MinDuration(),
		Metrics:     metrics,
		Logger:      logger,
	}
	sweepOpts := recovery.Options{
		Interval:   cfg.Sweep.Interval,
		StaleAfter: cfg.Sweep.StaleAfter,
		Batch:      cfg.Sweep.Batch,
		Logger:     logger,
		Metrics:    metrics,
	}

	if sweepOnly {
		res, err := recovery.New(st, live, finalizer, sweepOpts).RunOnce(ctx)
		if err != nil {
			return err
		}
		slog.Info("sweep complete", "candidates", res.Candidates, "ended", res.Ended,
			"reports_generated", res.ReportsGenerated, "reports_sent", res.ReportsSent, "errors", res.Errors)
		return nil
	}

	factory := &ingest.Factory{
		Twitch: twitchirc.Config{
			Nick:       cfg.Twitch.Nick,
			UseTLS:     cfg.Twitch.TLS,
			Addr:       cfg.Twitch.Addr,
			DebugDrops: cfg.Twitch.DebugDrops,
		},
		Kick:         kick.Config{APIBase: cfg.Kick.APIBase, PusherURL: cfg.Kick.PusherURL},
		KickResolver: kickResolver,
		Options: connector.Options{
			Classifier: classify.New(),
			Tier:       core.ParseTier(cfg.Tier),
			Bots:       bots,
			Backoff:    cfg.Backoff,
			Logger:     logger,
			Metrics:    metrics,
		},
	}
	manager := ingest.NewManager(st, factory, finalizer, ingest.ManagerOptions{
		Pipeline: ingest.PipelineOptions{
			Sink:    store.BufferedOptions{BatchSize: cfg.Batch(), FlushInterval: cfg.FlushInterval()},
			Live:    live,
			Metrics: metrics,
			Logger:  logger,
		},
	})

	var targets []ingest.Target
	for _, ch := range cfg.Twitch.Channels {
		if ch = strings.TrimSpace(ch); ch != "" {
			targets = append(targets, ingest.Target{Platform: core.PlatformTwitch, Channel: ch})
		}
	}
	for _, ch := range cfg.Kick.Channels {
		if ch = strings.TrimSpace(ch); ch != "" {
			targets = append(targets, ingest.Target{Platform: core.PlatformKick, Channel: ch})
		}
	}
	if len(targets) == 0 {
		slog.Warn("no channels configured; only the sweep and the HTTP API are running")
	}

	sweepOpts.Owner = manager
	sweeper := recovery.New(st, live, finalizer, sweepOpts)
	sweeper.Start(ctx)
	go manager.Supervise(ctx, targets, cfg.LivePoll)

	api := httpapi.New(st, httpapi.Options{
		Addr:           cfg.HTTP.Addr,
		RateLimitRPS:   cfg.HTTP.RateRPS,
		RateLimitBurst: cfg.HTTP.RateBurst,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		AdminToken:     cfg.HTTP.AdminToken,
		Build:          httpapi.BuildInfo{Version: version.Version, Revision: version.Commit, BuiltAt: version.BuiltAt()},
		Reports:        builder,
		Sweeper:        sweeper,
		Bots:           bots,
		Sessions:       manager,
		Active:         manager,
		Metrics:        metrics,
		Logger:         logger,
	})
	apiErr := make(chan error, 1)
	go func() { apiErr <- api.Start() }()

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case err = <-apiErr:
		if err != nil {
			err = fmt.Errorf("http api: %w", err)
		}
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if serr := api.Shutdown(shutdownCtx); serr != nil {
		slog.Error("http api shutdown", "err", serr)
	}
	// Open sessions stay open; the next start resumes them or the sweep
	// finalizes them.
	manager.Close()
	slog.Info("streampulse stopped")
	return err
}
