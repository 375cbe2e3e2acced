package report

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/you/streampulse/internal/core"
	"github.com/you/streampulse/internal/store"
	"github.com/you/streampulse/internal/telemetry"
)

const (
	DefaultMinMessages      = 10
	DefaultMinDuration      = 10 * time.Minute
	DefaultRecentSessions   = 10
	DefaultDeliveryTimeout  = 30 * time.Second
	skipReasonFewMessages   = "too few messages"
	skipReasonShortDuration = "too short"
)

// Notifier hands a serialized report to an external destination.
type Notifier interface {
	Deliver(ctx context.Context, address string, payload []byte) error
}

// AddressBook resolves where a channel's reports go. ok is false when no
// address is known.
type AddressBook interface {
	Address(channel string, platform core.Platform) (address string, ok bool)
}

// Outcome summarizes one Finalize call.
type Outcome struct {
	Session         core.Session
	Ended           bool
	Skipped         bool
	SkipReason      string
	ReportGenerated bool
	ReportSent      bool
	Report          *Report
}

type Finalizer struct {
	Store           store.Store
	Builder         *Builder
	Notifier        Notifier
	Addresses       AddressBook
	MinMessages     int
	MinDuration     time.Duration
	RecentSessions  int
	DeliveryTimeout time.Duration
	Metrics         *telemetry.Metrics
	Logger          *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (f *Finalizer) log() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f *Finalizer) lock(id string) func() {
	f.mu.Lock()
	if f.locks == nil {
		f.locks = make(map[string]*sync.Mutex)
	}
	l := f.locks[id]
	if l == nil {
		l = &sync.Mutex{}
		f.locks[id] = l
	}
	f.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (f *Finalizer) minMessages() int {
	if f.MinMessages > 0 {
		return f.MinMessages
	}
	return DefaultMinMessages
}

func (f *Finalizer) minDuration() time.Duration {
	if f.MinDuration > 0 {
		return f.MinDuration
	}
	return DefaultMinDuration
}

func stageErr(id, stage string, err error) error {
	return &core.FinalizationError{SessionID: id, Stage: stage, Err: err}
}

// Finalize ends s at now (if still open), then generates and delivers its
// report at most once. Sessions with too few messages or too short a run are
// ended without a report. A delivery failure is returned as a
// *core.DeliveryFailure alongside an Outcome with ReportGenerated set.
func (f *Finalizer) Finalize(ctx context.Context, s core.Session, now time.Time) (out Outcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, "report.finalize",
		attribute.String("session.id", s.ID),
		attribute.String("channel", s.ChannelName),
		attribute.String("platform", string(s.Platform)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	unlock := f.lock(s.ID)
	defer unlock()
	log := f.log().With("session", s.ID, "channel", s.ChannelName, "platform", s.Platform)

	cur, err := f.Store.GetSession(ctx, s.ID)
	if err != nil {
		return out, stageErr(s.ID, "load", err)
	}
	if cur.Open() {
		total, err := f.Store.CountMessages(ctx, s.ID)
		if err != nil {
			return out, stageErr(s.ID, "count", err)
		}
		cur, err = f.Store.EndSession(ctx, s.ID, now, total)
		if err != nil {
			return out, stageErr(s.ID, "end", err)
		}
		out.Ended = true
		log.Info("session ended", "duration_minutes", cur.DurationMinutes, "messages", cur.TotalMessages)
	}
	out.Session = cur

	if cur.ReportGenerated {
		out.ReportGenerated = true
		out.ReportSent = cur.ReportSent
		return out, nil
	}

	if cur.TotalMessages < f.minMessages() {
		out.Skipped, out.SkipReason = true, skipReasonFewMessages
	} else if cur.Duration(now) < f.minDuration() {
		out.Skipped, out.SkipReason = true, skipReasonShortDuration
	}
	if out.Skipped {
		log.Info("report skipped", "reason", out.SkipReason, "messages", cur.TotalMessages, "duration_minutes", cur.DurationMinutes)
		f.Metrics.IncReports("skipped")
		return out, nil
	}

	rep, agg, err := f.Builder.BuildSession(ctx, cur)
	if err != nil {
		f.Metrics.IncReports("error")
		return out, stageErr(s.ID, "build", err)
	}

	n := f.RecentSessions
	if n <= 0 {
		n = DefaultRecentSessions
	}
	recurring, err := f.Store.RecentChatters(ctx, cur.ChannelName, cur.Platform, cur.SessionStart, n)
	if err != nil {
		log.Warn("recurring chatters unavailable", "err", err)
		recurring = nil
	}
	if res := agg.Flush(ctx, f.Store, recurring); res.Err != nil {
		f.Metrics.AddFlushFailures(res.FailedChatters, res.FailedBuckets)
	}

	changed, err := f.Store.MarkReport(ctx, s.ID, store.ReportGenerated)
	if err != nil {
		f.Metrics.IncReports("error")
		return out, stageErr(s.ID, "mark_generated", err)
	}
	if !changed {
		// Generated elsewhere since we loaded the session.
		out.ReportGenerated = true
		return out, nil
	}
	out.ReportGenerated = true
	out.Report = &rep
	f.Metrics.IncReports("generated")
	log.Info("report generated", "grade", rep.StreamRating.Grade, "percentage", rep.StreamRating.Percentage)

	sent, err := f.deliver(ctx, cur, rep)
	if err != nil {
		return out, err
	}
	if !sent {
		return out, nil
	}
	if _, err := f.Store.MarkReport(ctx, s.ID, store.ReportSent); err != nil {
		return out, stageErr(s.ID, "mark_sent", err)
	}
	out.ReportSent = true
	out.Session.ReportGenerated, out.Session.ReportSent = true, true
	return out, nil
}

func (f *Finalizer) deliver(ctx context.Context, s core.Session, rep Report) (bool, error) {
	if f.Notifier == nil || f.Addresses == nil {
		return false, nil
	}
	addr, ok := f.Addresses.Address(s.ChannelName, s.Platform)
	if !ok || addr == "" {
		f.log().Info("no delivery address", "session", s.ID, "channel", s.ChannelName)
		return false, nil
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		return false, stageErr(s.ID, "encode", err)
	}
	timeout := f.DeliveryTimeout
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := f.Notifier.Deliver(dctx, addr, payload); err != nil {
		var df *core.DeliveryFailure
		if !errors.As(err, &df) {
			df = &core.DeliveryFailure{Address: addr, Err: err}
		}
		f.log().Warn("report delivery failed", "session", s.ID, "err", df)
		return false, df
	}
	return true, nil
}
