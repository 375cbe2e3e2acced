package insight

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/you/streampulse/internal/aggregate"
	"github.com/you/streampulse/internal/core"
	"github.com/you/streampulse/internal/store"
)

// Figures is the per-session input to Compare.
type Figures struct {
	SessionID      string
	Messages       int
	PeakViewers    int
	PositivePct    int
	Questions      int
	UniqueChatters int
}

func FiguresFor(s core.Session, a core.SessionAnalytics) Figures {
	return Figures{
		SessionID:      s.ID,
		Messages:       a.TotalMessages,
		PeakViewers:    s.PeakViewerCount,
		PositivePct:    int(math.Round(a.PositiveRatio() * 100)),
		Questions:      a.Questions,
		UniqueChatters: a.UniqueChatters,
	}
}

// Delta is the integer percentage change from prev to cur. A zero prev
// yields 100 when cur is positive and 0 otherwise.
func Delta(cur, prev int) int {
	if prev == 0 {
		if cur > 0 {
			return 100
		}
		return 0
	}
	return int(math.Round(float64(cur-prev) / float64(prev) * 100))
}

func Compare(cur, prev Figures) *core.Comparison {
	return &core.Comparison{
		PreviousSessionID: prev.SessionID,
		MessagesDelta:     Delta(cur.Messages, prev.Messages),
		ViewersDelta:      Delta(cur.PeakViewers, prev.PeakViewers),
		PositivityDelta:   Delta(cur.PositivePct, prev.PositivePct),
		QuestionsDelta:    Delta(cur.Questions, prev.Questions),
		ChattersDelta:     Delta(cur.UniqueChatters, prev.UniqueChatters),
	}
}

// SessionHistory is the slice of store.Store a Comparer reads.
type SessionHistory interface {
	PreviousSession(ctx context.Context, s core.Session) (core.Session, error)
	SessionMessages(ctx context.Context, sessionID string) ([]core.UnifiedChatMessage, error)
}

// Comparer recomputes the previous session's analytics from its stored
// messages and compares against them.
type Comparer struct {
	History SessionHistory
	Logger  *slog.Logger
}

// Compare returns nil when there is no previous session or it cannot be
// loaded. It never fails.
func (c *Comparer) Compare(ctx context.Context, cur core.Session, curAnalytics core.SessionAnalytics) *core.Comparison {
	if c == nil || c.History == nil {
		return nil
	}
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	prev, err := c.History.PreviousSession(ctx, cur)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("insight: previous session lookup failed", "session", cur.ID, "err", err)
		}
		return nil
	}
	msgs, err := c.History.SessionMessages(ctx, prev.ID)
	if err != nil {
		log.Warn("insight: previous session messages unavailable", "session", cur.ID, "previous", prev.ID, "err", err)
		return nil
	}
	prevAnalytics := aggregate.Replay(prev, msgs, nil, aggregate.Options{Logger: log}).Snapshot()
	return Compare(FiguresFor(cur, curAnalytics), FiguresFor(prev, prevAnalytics))
}
