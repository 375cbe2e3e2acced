// Package recovery finalizes sessions that were left open, typically because
// the process stopped before it saw the broadcast end.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/you/streampulse/internal/core"
	"github.com/you/streampulse/internal/livestatus"
	"github.com/you/streampulse/internal/report"
	"github.com/you/streampulse/internal/telemetry"
)

const (
	DefaultInterval   = 30 * time.Minute
	DefaultStaleAfter = 12 * time.Hour
	DefaultBatch      = 50
)

// Candidates lists open sessions that started before a cutoff.
type Candidates interface {
	StaleOpenSessions(ctx context.Context, startedBefore time.Time, limit int) ([]core.Session, error)
}

type LiveChecker interface {
	Status(ctx context.Context, p core.Platform, channel string) (livestatus.Status, error)
}

type Finalizer interface {
	Finalize(ctx context.Context, s core.Session, now time.Time) (report.Outcome, error)
}

// Owner reports sessions that a running ingest pipeline is still writing.
// The sweep leaves those to whoever owns them.
type Owner interface {
	Owns(sessionID string) bool
}

type Options struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Batch      int
	Now        func() time.Time
	Owner      Owner
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics
}

// Result counts one pass. Skipped is the number of candidates left open
// because their channel is still live or a pipeline still owns them.
type Result struct {
	Candidates       int `json:"candidates"`
	Ended            int `json:"ended"`
	Skipped          int `json:"skipped"`
	ReportsGenerated int `json:"reportsGenerated"`
	ReportsSent      int `json:"reportsSent"`
	Errors           int `json:"errors"`
}

type Sweeper struct {
	sessions  Candidates
	live      LiveChecker
	finalizer Finalizer
	opts      Options
	log       *slog.Logger
}

func New(sessions Candidates, live LiveChecker, finalizer Finalizer, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Batch <= 0 {
		opts.Batch = DefaultBatch
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sweeper{
		sessions:  sessions,
		live:      live,
		finalizer: finalizer,
		opts:      opts,
		log:       opts.Logger.With("component", "recovery"),
	}
}

// RunOnce processes one batch of stale sessions. Only a failure to list
// candidates is returned; per-session failures are counted in Errors.
func (s *Sweeper) RunOnce(ctx context.Context) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "recovery.sweep")
	defer func() {
		span.SetAttributes(
			attribute.Int("sweep.candidates", res.Candidates),
			attribute.Int("sweep.ended", res.Ended),
			attribute.Int("sweep.errors", res.Errors),
		)
		telemetry.EndSpan(span, err)
	}()

	now := s.opts.Now()
	candidates, err := s.sessions.StaleOpenSessions(ctx, now.Add(-s.opts.StaleAfter), s.opts.Batch)
	if err != nil {
		s.log.Error("sweep: candidate query failed", "err", err)
		return res, err
	}
	res.Candidates = len(candidates)

	for _, sess := range candidates {
		if ctx.Err() != nil {
			break
		}
		s.process(ctx, sess, &res)
	}

	s.opts.Metrics.ObserveSweep(res.Ended, res.Skipped, res.ReportsGenerated, res.ReportsSent, res.Errors)
	s.log.Info("sweep complete",
		"candidates", res.Candidates,
		"ended", res.Ended,
		"skipped", res.Skipped,
		"reports_generated", res.ReportsGenerated,
		"reports_sent", res.ReportsSent,
		"errors", res.Errors,
	)
	return res, nil
}

func (s *Sweeper) process(ctx context.Context, sess core.Session, res *Result) {
	log := s.log.With("session", sess.ID, "channel", sess.ChannelName, "platform", sess.Platform)

	if s.opts.Owner != nil && s.opts.Owner.Owns(sess.ID) {
		res.Skipped++
		log.Info("sweep: session is being ingested, leaving it open")
		return
	}

	live, err := s.isLive(ctx, sess)
	if err != nil {
		// Unknown status: finalize anyway, but surface the failed check.
		res.Errors++
		log.Warn("sweep: live status unknown", "err", err)
	}
	if live {
		res.Skipped++
		log.Info("sweep: channel still live, leaving session open")
		return
	}

	out, err := s.finalizer.Finalize(ctx, sess, s.opts.Now())
	if out.Ended {
		res.Ended++
	}
	if out.Report != nil {
		res.ReportsGenerated++
	}
	if out.ReportSent && out.Report != nil {
		res.ReportsSent++
	}
	if err != nil {
		res.Errors++
		var df *core.DeliveryFailure
		if errors.As(err, &df) {
			log.Warn("sweep: report delivery failed", "err", err)
			return
		}
		log.Error("sweep: finalize failed", "err", err)
	}
}

func (s *Sweeper) isLive(ctx context.Context, sess core.Session) (bool, error) {
	if s.live == nil {
		return false, nil
	}
	st, err := s.live.Status(ctx, sess.Platform, sess.ChannelName)
	if err != nil {
		if errors.Is(err, livestatus.ErrUnsupported) {
			return false, nil
		}
		return false, err
	}
	return st.Live, nil
}

// Start runs a pass immediately and then every Interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		for {
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("sweep failed", "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
