package core

import (
	"strings"
	"time"
)

// Platform identifies a streaming platform.
type Platform string

const (
	PlatformTwitch Platform = "twitch"
	PlatformKick   Platform = "kick"
)

// ParsePlatform normalizes a platform label. Unknown labels are returned
// lower-cased so the set stays extensible.
func ParsePlatform(raw string) Platform {
	return Platform(strings.ToLower(strings.TrimSpace(raw)))
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type EngagementLevel string

const (
	EngagementLow    EngagementLevel = "low"
	EngagementMedium EngagementLevel = "medium"
	EngagementHigh   EngagementLevel = "high"
)

type QuestionType string

const (
	QuestionNone  QuestionType = ""
	QuestionHow   QuestionType = "how"
	QuestionWhat  QuestionType = "what"
	QuestionWhy   QuestionType = "why"
	QuestionWhen  QuestionType = "when"
	QuestionWhere QuestionType = "where"
	QuestionWho   QuestionType = "who"
	QuestionWhich QuestionType = "which"
	QuestionYesNo QuestionType = "yes_no"
	QuestionHelp  QuestionType = "help"
	QuestionOther QuestionType = "other"
)

// Tier is the subscription label that gates optional classification passes.
type Tier string

const (
	TierFree   Tier = "free"
	TierPro    Tier = "pro"
	TierAgency Tier = "agency"
)

// ParseTier maps a label to a known tier. Unknown labels fall back to free.
func ParseTier(raw string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierPro:
		return TierPro
	case TierAgency:
		return TierAgency
	default:
		return TierFree
	}
}

// Classification is the per-message verdict attached before emission.
// Degraded is set when a sub-classifier could not decide and fell back to
// its neutral default.
type Classification struct {
	Language           string          `json:"language"`
	LanguageConfidence float64         `json:"languageConfidence"`
	Sentiment          Sentiment       `json:"sentiment"`
	SentimentScore     float64         `json:"sentimentScore"`
	SentimentReason    string          `json:"sentimentReason,omitempty"`
	IsQuestion         bool            `json:"isQuestion"`
	QuestionType       QuestionType    `json:"questionType,omitempty"`
	EngagementLevel    EngagementLevel `json:"engagementLevel"`
	Topics             []string        `json:"topics"`
	Degraded           bool            `json:"degraded,omitempty"`
}

// UnifiedChatMessage is one chat line in platform-neutral form.
// Timestamp is epoch milliseconds.
type UnifiedChatMessage struct {
	ID                string   `json:"id"`
	PlatformMessageID string   `json:"platformMessageId,omitempty"`
	Platform          Platform `json:"platform"`
	Channel           string   `json:"channel"`
	Username          string   `json:"username"`
	DisplayName       string   `json:"displayName"`
	UserID            string   `json:"userId,omitempty"`
	Message           string   `json:"message"`
	Timestamp         int64    `json:"timestamp"`
	Classification
}

type EventType string

const (
	EventFollow       EventType = "follow"
	EventSubscription EventType = "subscription"
	EventResub        EventType = "resub"
	EventGiftSub      EventType = "gift_sub"
	EventCheer        EventType = "cheer"
	EventRaid         EventType = "raid"
)

// StreamEvent is a monetization or community event supplied by the event
// source collaborator.
type StreamEvent struct {
	ID          string         `json:"id"`
	Channel     string         `json:"channel"`
	Platform    Platform       `json:"platform"`
	EventType   EventType      `json:"eventType"`
	UserID      string         `json:"userId,omitempty"`
	UserName    string         `json:"userName,omitempty"`
	DisplayName string         `json:"displayName,omitempty"`
	EventData   map[string]any `json:"eventData,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

// IntData reads a numeric field from EventData. JSON numbers decode as
// float64, database rows may carry ints or numeric strings.
func (e StreamEvent) IntData(key string) int {
	if e.EventData == nil {
		return 0
	}
	switch v := e.EventData[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n := 0
		for _, r := range strings.TrimSpace(v) {
			if r < '0' || r > '9' {
				return n
			}
			n = n*10 + int(r-'0')
		}
		return n
	default:
		return 0
	}
}

// Session is one continuous broadcast on one channel of one platform.
// SessionEnd is nil while the session is open.
type Session struct {
	ID              string   `json:"id"`
	ChannelName     string   `json:"channelName"`
	Platform        Platform `json:"platform"`
	SessionStart    int64    `json:"sessionStart"`
	SessionEnd      *int64   `json:"sessionEnd"`
	DurationMinutes int      `json:"durationMinutes"`
	PeakViewerCount int      `json:"peakViewerCount"`
	TotalMessages   int      `json:"totalMessages"`
	ReportGenerated bool     `json:"reportGenerated"`
	ReportSent      bool     `json:"reportSent"`
}

func (s Session) Open() bool { return s.SessionEnd == nil }

// Start returns SessionStart as a time.Time.
func (s Session) Start() time.Time { return FromMillis(s.SessionStart) }

// Duration of the session; for an open session it is measured against now.
func (s Session) Duration(now time.Time) time.Duration {
	end := now
	if s.SessionEnd != nil {
		end = FromMillis(*s.SessionEnd)
	}
	d := end.Sub(s.Start())
	if d < 0 {
		return 0
	}
	return d
}

type ChatterSummary struct {
	Username     string `json:"username"`
	DisplayName  string `json:"displayName"`
	MessageCount int    `json:"messageCount"`
}

type EngagementPeak struct {
	Timestamp    int64   `json:"timestamp"`
	MessageCount int     `json:"messageCount"`
	Intensity    float64 `json:"intensity"`
}

// SessionAnalytics is the derived view over a session's classified messages.
type SessionAnalytics struct {
	TotalMessages    int               `json:"totalMessages"`
	PositiveMessages int               `json:"positiveMessages"`
	NeutralMessages  int               `json:"neutralMessages"`
	NegativeMessages int               `json:"negativeMessages"`
	Questions        int               `json:"questions"`
	HighEngagement   int               `json:"highEngagement"`
	Languages        map[string]int    `json:"languages"`
	Topics           map[string]int    `json:"topics"`
	UniqueChatters   int               `json:"uniqueChatters"`
	AverageSentiment float64           `json:"averageSentiment"`
	MostActive       []ChatterSummary  `json:"mostActiveChatters"`
	Peaks            []EngagementPeak  `json:"engagementPeaks"`
	EventCounts      map[EventType]int `json:"eventCounts"`
	Insights         []string          `json:"insights"`
}

// PositiveRatio is positive messages over total, 0 when there are none.
func (a SessionAnalytics) PositiveRatio() float64 {
	if a.TotalMessages == 0 {
		return 0
	}
	return float64(a.PositiveMessages) / float64(a.TotalMessages)
}

// TotalEvents sums EventCounts.
func (a SessionAnalytics) TotalEvents() int {
	n := 0
	for _, c := range a.EventCounts {
		n += c
	}
	return n
}

// TopChatterRecord is the per-user rollup upserted by (session, username).
type TopChatterRecord struct {
	SessionID        string   `json:"sessionId"`
	Username         string   `json:"username"`
	DisplayName      string   `json:"displayName"`
	Platform         Platform `json:"platform"`
	MessageCount     int      `json:"messageCount"`
	QuestionCount    int      `json:"questionCount"`
	AverageSentiment float64  `json:"averageSentiment"`
	HighEngagement   int      `json:"highEngagementCount"`
	FirstMessageAt   int64    `json:"firstMessageAt"`
	LastMessageAt    int64    `json:"lastMessageAt"`
	Recurring        bool     `json:"recurring"`
}

type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
	IntensityPeak   Intensity = "peak"
)

// IntensityFor labels a bucket by its message count.
func IntensityFor(count int) Intensity {
	switch {
	case count < 10:
		return IntensityLow
	case count < 30:
		return IntensityMedium
	case count < 60:
		return IntensityHigh
	default:
		return IntensityPeak
	}
}

// TimelineBucket is a fixed-width slice of a session, upserted by
// (session, bucket start).
type TimelineBucket struct {
	SessionID        string    `json:"sessionId"`
	BucketStart      int64     `json:"bucketStart"`
	MessageCount     int       `json:"messageCount"`
	UniqueChatters   int       `json:"uniqueChatters"`
	QuestionCount    int       `json:"questionCount"`
	PositiveCount    int       `json:"positiveCount"`
	NeutralCount     int       `json:"neutralCount"`
	NegativeCount    int       `json:"negativeCount"`
	AverageSentiment float64   `json:"averageSentiment"`
	Intensity        Intensity `json:"intensity"`
}

type RatingBreakdown struct {
	Duration   int `json:"duration"`
	Engagement int `json:"engagement"`
	Positivity int `json:"positivity"`
	Events     int `json:"events"`
	Viewers    int `json:"viewers"`
}

type StreamRating struct {
	Grade      string          `json:"grade"`
	Percentage int             `json:"percentage"`
	Score      int             `json:"score"`
	MaxScore   int             `json:"maxScore"`
	Breakdown  RatingBreakdown `json:"breakdown"`
	Color      string          `json:"color"`
	Emoji      string          `json:"emoji"`
}

type Achievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Emoji       string `json:"emoji"`
}

type ClipMoment struct {
	Timestamp     int64   `json:"timestamp"`
	OffsetSeconds int64   `json:"offsetSeconds"`
	Reason        string  `json:"reason"`
	Label         string  `json:"label"`
	Intensity     float64 `json:"intensity"`
}

type Comparison struct {
	PreviousSessionID string `json:"previousSessionId"`
	MessagesDelta     int    `json:"messagesDelta"`
	ViewersDelta      int    `json:"viewersDelta"`
	PositivityDelta   int    `json:"positivityDelta"`
	QuestionsDelta    int    `json:"questionsDelta"`
	ChattersDelta     int    `json:"chattersDelta"`
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// FromMillis converts epoch milliseconds to UTC time.
func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
