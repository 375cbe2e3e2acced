// Package report assembles the dashboard report for a session and owns the
// end-of-session finalization shared by explicit end signals and the
// recovery sweep.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/you/streampulse/internal/aggregate"
	"github.com/you/streampulse/internal/core"
	"github.com/you/streampulse/internal/insight"
)

// Report is the read shape served to the dashboard and handed to notifiers.
type Report struct {
	Session            core.Session          `json:"session"`
	Analytics          core.SessionAnalytics `json:"analytics"`
	Events             []core.StreamEvent    `json:"events"`
	Achievements       []core.Achievement    `json:"achievements"`
	ClipTimestamps     []core.ClipMoment     `json:"clipTimestamps"`
	StreamRating       core.StreamRating     `json:"streamRating"`
	PreviousComparison *core.Comparison      `json:"previousComparison"`
	GeneratedAt        int64                 `json:"generatedAt"`
}

// EventSource supplies stream events for a channel and time window.
type EventSource interface {
	ChannelEvents(ctx context.Context, channel string, platform core.Platform, from, to int64) ([]core.StreamEvent, error)
}

// Sessions is the part of the store a Builder reads.
type Sessions interface {
	GetSession(ctx context.Context, id string) (core.Session, error)
	SessionMessages(ctx context.Context, sessionID string) ([]core.UnifiedChatMessage, error)
}

type Builder struct {
	Sessions  Sessions
	Events    EventSource
	Comparer  *insight.Comparer
	Aggregate aggregate.Options
	Clips     insight.ClipOptions
	Now       func() time.Time
	Logger    *slog.Logger
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Build loads the session by id and assembles its report. Open sessions are
// reported as of now.
func (b *Builder) Build(ctx context.Context, id string) (Report, error) {
	s, err := b.Sessions.GetSession(ctx, id)
	if err != nil {
		return Report{}, err
	}
	r, _, err := b.BuildSession(ctx, s)
	return r, err
}

// BuildSession replays the session's stored messages and events and returns
// the report together with the aggregator it was computed from.
func (b *Builder) BuildSession(ctx context.Context, s core.Session) (Report, *aggregate.Aggregator, error) {
	now := b.now()
	view := s
	if view.Open() {
		view.DurationMinutes = int(view.Duration(now).Minutes())
	}
	to := core.Millis(now)
	if s.SessionEnd != nil {
		to = *s.SessionEnd
	}

	msgs, err := b.Sessions.SessionMessages(ctx, s.ID)
	if err != nil {
		return Report{}, nil, fmt.Errorf("load messages for %s: %w", s.ID, err)
	}
	events := []core.StreamEvent{}
	if b.Events != nil {
		evs, err := b.Events.ChannelEvents(ctx, s.ChannelName, s.Platform, s.SessionStart, to)
		if err != nil {
			return Report{}, nil, fmt.Errorf("load events for %s: %w", s.ID, err)
		}
		if evs != nil {
			events = evs
		}
	}

	opts := b.Aggregate
	if opts.Logger == nil {
		opts.Logger = b.Logger
	}
	agg := aggregate.Replay(view, msgs, events, opts)
	analytics := agg.Snapshot()
	analytics.Insights = insight.Observations(view, analytics)
	if view.TotalMessages < analytics.TotalMessages {
		view.TotalMessages = analytics.TotalMessages
	}

	return Report{
		Session:            view,
		Analytics:          analytics,
		Events:             events,
		Achievements:       insight.Achievements(view, analytics, events),
		ClipTimestamps:     insight.ClipMoments(view, analytics.Peaks, events, b.Clips),
		StreamRating:       insight.Rate(insight.RatingInputFor(view, analytics)),
		PreviousComparison: b.Comparer.Compare(ctx, view, analytics),
		GeneratedAt:        core.Millis(now),
	}, agg, nil
}
