package insight

import (
	"time"

	"github.com/you/streampulse/internal/core"
)

// badge is one catalog entry. Predicates are evaluated independently.
type badge struct {
	core.Achievement
	unlocked func(in achievementInput) bool
}

type achievementInput struct {
	session   core.Session
	analytics core.SessionAnalytics
	events    map[core.EventType]int
}

func (in achievementInput) duration() time.Duration {
	return time.Duration(in.session.DurationMinutes) * time.Minute
}

func (in achievementInput) languages() int {
	n := 0
	for lang, c := range in.analytics.Languages {
		if lang != "" && lang != "unknown" && c > 0 {
			n++
		}
	}
	return n
}

var catalog = []badge{
	{
		core.Achievement{ID: "marathon", Name: "Marathon", Description: "Streamed for 4 hours or more", Emoji: "🏃"},
		func(in achievementInput) bool { return in.duration() >= 4*time.Hour },
	},
	{
		core.Achievement{ID: "long_haul", Name: "Long Haul", Description: "Streamed for 2 hours or more", Emoji: "⏱️"},
		func(in achievementInput) bool { return in.duration() >= 2*time.Hour },
	},
	{
		core.Achievement{ID: "conversation_starter", Name: "Conversation Starter", Description: "Chat sent 100 messages", Emoji: "💬"},
		func(in achievementInput) bool { return in.analytics.TotalMessages >= 100 },
	},
	{
		core.Achievement{ID: "chatterbox", Name: "Chatterbox", Description: "Chat sent 1,000 messages", Emoji: "🗣️"},
		func(in achievementInput) bool { return in.analytics.TotalMessages >= 1000 },
	},
	{
		core.Achievement{ID: "good_vibes", Name: "Good Vibes", Description: "At least 60% of 50+ messages were positive", Emoji: "😊"},
		func(in achievementInput) bool {
			return in.analytics.TotalMessages >= 50 && in.analytics.PositiveRatio() >= 0.6
		},
	},
	{
		core.Achievement{ID: "curious_crowd", Name: "Curious Crowd", Description: "Viewers asked 25 questions", Emoji: "❓"},
		func(in achievementInput) bool { return in.analytics.Questions >= 25 },
	},
	{
		core.Achievement{ID: "community_builder", Name: "Community Builder", Description: "50 different people chatted", Emoji: "🤝"},
		func(in achievementInput) bool { return in.analytics.UniqueChatters >= 50 },
	},
	{
		core.Achievement{ID: "polyglot", Name: "Polyglot", Description: "Chat spoke 3 or more languages", Emoji: "🌍"},
		func(in achievementInput) bool { return in.languages() >= 3 },
	},
	{
		core.Achievement{ID: "hype_moment", Name: "Hype Moment", Description: "Chat hit an engagement peak", Emoji: "⚡"},
		func(in achievementInput) bool { return len(in.analytics.Peaks) > 0 },
	},
	{
		core.Achievement{ID: "raid_magnet", Name: "Raid Magnet", Description: "Received a raid", Emoji: "🚀"},
		func(in achievementInput) bool { return in.events[core.EventRaid] >= 1 },
	},
	{
		core.Achievement{ID: "generous_crowd", Name: "Generous Crowd", Description: "Received 5 gifted subs", Emoji: "🎁"},
		func(in achievementInput) bool { return in.events[core.EventGiftSub] >= 5 },
	},
	{
		core.Achievement{ID: "sub_train", Name: "Sub Train", Description: "10 subscriptions or resubs", Emoji: "🚂"},
		func(in achievementInput) bool {
			return in.events[core.EventSubscription]+in.events[core.EventResub] >= 10
		},
	},
	{
		core.Achievement{ID: "bits_rain", Name: "Bits Rain", Description: "Received 10 cheers", Emoji: "💎"},
		func(in achievementInput) bool { return in.events[core.EventCheer] >= 10 },
	},
	{
		core.Achievement{ID: "new_friends", Name: "New Friends", Description: "Gained 25 followers", Emoji: "👋"},
		func(in achievementInput) bool { return in.events[core.EventFollow] >= 25 },
	},
}

// Achievements returns every catalog badge whose predicate holds, in
// catalog order. Event counts come from events, falling back to the
// analytics' EventCounts when events is nil.
func Achievements(s core.Session, a core.SessionAnalytics, events []core.StreamEvent) []core.Achievement {
	in := achievementInput{session: s, analytics: a, events: make(map[core.EventType]int)}
	if events == nil {
		for k, v := range a.EventCounts {
			in.events[k] = v
		}
	} else {
		for _, ev := range events {
			in.events[ev.EventType]++
		}
	}
	out := []core.Achievement{}
	for _, b := range catalog {
		if b.unlocked(in) {
			out = append(out, b.Achievement)
		}
	}
	return out
}
