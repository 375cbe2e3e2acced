// Package insight turns a finished session's aggregates into a stream
// rating, achievements, clip moments, a stream-over-stream comparison and a
// handful of plain-language observations. Everything here is deterministic;
// the only I/O is Comparer's lookup of the previous session.
package insight

import (
	"math"
	"time"

	"github.com/you/streampulse/internal/core"
)

const (
	maxDuration   = 20
	maxEngagement = 30
	maxPositivity = 25
	maxEvents     = 15
	maxViewers    = 10
	maxScore      = maxDuration + maxEngagement + maxPositivity + maxEvents + maxViewers
)

type RatingInput struct {
	Duration      time.Duration
	Messages      int
	PositiveRatio float64
	Events        int
	PeakViewers   int
}

// RatingInputFor collects the rating inputs from an ended session.
func RatingInputFor(s core.Session, a core.SessionAnalytics) RatingInput {
	return RatingInput{
		Duration:      time.Duration(s.DurationMinutes) * time.Minute,
		Messages:      a.TotalMessages,
		PositiveRatio: a.PositiveRatio(),
		Events:        a.TotalEvents(),
		PeakViewers:   s.PeakViewerCount,
	}
}

func durationScore(d time.Duration) int {
	switch {
	case d >= 2*time.Hour:
		return 20
	case d >= 30*time.Minute:
		return 12
	default:
		return 5
	}
}

func engagementScore(messages int, d time.Duration) int {
	perHour := 0.0
	if hours := d.Hours(); hours > 0 {
		perHour = float64(messages) / hours
	}
	switch {
	case perHour >= 100:
		return 30
	case perHour >= 60:
		return 24
	case perHour >= 30:
		return 18
	case perHour >= 10:
		return 10
	default:
		return 4
	}
}

func positivityScore(ratio float64) int {
	ratio = math.Max(0, math.Min(1, ratio))
	return int(math.Round(ratio * maxPositivity))
}

func eventsScore(n int) int {
	switch {
	case n >= 50:
		return 15
	case n >= 20:
		return 12
	case n >= 10:
		return 9
	case n >= 1:
		return 5
	default:
		return 0
	}
}

func viewersScore(n int) int {
	switch {
	case n >= 1000:
		return 10
	case n >= 250:
		return 8
	case n >= 100:
		return 6
	case n >= 25:
		return 4
	case n >= 1:
		return 2
	default:
		return 0
	}
}

type grade struct {
	min   int
	label string
	color string
	emoji string
}

var grades = []grade{
	{95, "S+", "#ffd700", "🏆"},
	{90, "S", "#f5c542", "🌟"},
	{85, "A+", "#22c55e", "🔥"},
	{80, "A", "#4ade80", "💪"},
	{75, "B+", "#3b82f6", "👍"},
	{70, "B", "#60a5fa", "🙂"},
	{65, "C+", "#f97316", "📈"},
	{55, "C", "#fb923c", "🌱"},
	{0, "C-", "#ef4444", "🛠️"},
}

func gradeFor(pct int) grade {
	for _, g := range grades {
		if pct >= g.min {
			return g
		}
	}
	return grades[len(grades)-1]
}

// Rate scores in over five dimensions. Each dimension is banded by fixed
// cut points, so the result never decreases when any input grows.
func Rate(in RatingInput) core.StreamRating {
	b := core.RatingBreakdown{
		Duration:   durationScore(in.Duration),
		Engagement: engagementScore(in.Messages, in.Duration),
		Positivity: positivityScore(in.PositiveRatio),
		Events:     eventsScore(in.Events),
		Viewers:    viewersScore(in.PeakViewers),
	}
	score := b.Duration + b.Engagement + b.Positivity + b.Events + b.Viewers
	pct := int(math.Round(float64(score) / maxScore * 100))
	g := gradeFor(pct)
	return core.StreamRating{
		Grade:      g.label,
		Percentage: pct,
		Score:      score,
		MaxScore:   maxScore,
		Breakdown:  b,
		Color:      g.color,
		Emoji:      g.emoji,
	}
}
