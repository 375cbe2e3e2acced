package insight

import (
	"fmt"
	"math"
	"sort"

	"github.com/you/streampulse/internal/core"
)

// Observations produces short plain-language notes about a session, most
// notable first. The same analytics always yield the same notes.
func Observations(s core.Session, a core.SessionAnalytics) []string {
	out := []string{}
	if a.TotalMessages == 0 {
		return append(out, "Chat was quiet this time. Try asking viewers a question early to get things going.")
	}

	pct := int(math.Round(a.PositiveRatio() * 100))
	switch {
	case pct >= 60:
		out = append(out, fmt.Sprintf("Chat was overwhelmingly positive: %d%% of messages were upbeat.", pct))
	case a.NegativeMessages > a.PositiveMessages:
		out = append(out, "Negative messages outnumbered positive ones. A look at the timeline may show when the mood turned.")
	}

	if s.DurationMinutes > 0 {
		perHour := float64(a.TotalMessages) / (float64(s.DurationMinutes) / 60)
		out = append(out, fmt.Sprintf("Chat averaged %d messages per hour from %d chatters.", int(math.Round(perHour)), a.UniqueChatters))
	}

	if len(a.Peaks) > 0 {
		top := a.Peaks[0]
		for _, p := range a.Peaks[1:] {
			if p.Intensity > top.Intensity {
				top = p
			}
		}
		out = append(out, fmt.Sprintf("Chat hit %d engagement peak(s); the biggest had %d messages in one minute.", len(a.Peaks), top.MessageCount))
	}

	if a.Questions >= 10 {
		out = append(out, fmt.Sprintf("Viewers asked %d questions. A dedicated Q&A segment could land well.", a.Questions))
	}

	if topic, n := topKey(a.Topics); n > 0 {
		out = append(out, fmt.Sprintf("Most discussed topic: %s (%d mentions).", topic, n))
	}

	langs := 0
	for lang, n := range a.Languages {
		if lang != "unknown" && n > 0 {
			langs++
		}
	}
	if langs >= 2 {
		out = append(out, fmt.Sprintf("Chat spoke %d languages.", langs))
	}

	if len(a.MostActive) > 0 {
		c := a.MostActive[0]
		out = append(out, fmt.Sprintf("Top chatter: %s with %d messages.", c.DisplayName, c.MessageCount))
	}
	return out
}

func topKey(m map[string]int) (string, int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestN := "", 0
	for _, k := range keys {
		if m[k] > bestN {
			best, bestN = k, m[k]
		}
	}
	return best, bestN
}
