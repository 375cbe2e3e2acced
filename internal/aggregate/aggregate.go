// Package aggregate folds a session's classified messages into running
// totals, per-chatter rollups, fixed-width timeline buckets and engagement
// peaks. Every figure is a pure function of the set of messages added, so
// re-adding or replaying the same messages converges to the same rows.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/you/streampulse/internal/core"
)

const (
	DefaultBucketWidth     = 2 * time.Minute
	DefaultPeakWindow      = time.Minute
	DefaultPeakMinMessages = 20
	DefaultPeakMinMix      = 0.4
	DefaultMostActive      = 10
)

type Options struct {
	BucketWidth     time.Duration
	PeakWindow      time.Duration
	PeakMinMessages int
	PeakMinMix      float64
	MostActive      int
	Logger          *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BucketWidth <= 0 {
		o.BucketWidth = DefaultBucketWidth
	}
	if o.PeakWindow <= 0 {
		o.PeakWindow = DefaultPeakWindow
	}
	if o.PeakMinMessages <= 0 {
		o.PeakMinMessages = DefaultPeakMinMessages
	}
	if o.PeakMinMix <= 0 {
		o.PeakMinMix = DefaultPeakMinMix
	}
	if o.MostActive <= 0 {
		o.MostActive = DefaultMostActive
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Writer receives flushed rollups. Both calls must be upserts.
type Writer interface {
	UpsertTopChatter(ctx context.Context, rec core.TopChatterRecord) error
	UpsertTimelineBucket(ctx context.Context, b core.TimelineBucket) error
}

type userStats struct {
	display      string
	platform     core.Platform
	count        int
	questions    int
	sentimentSum float64
	high         int
	first, last  int64
}

type bucketStats struct {
	count        int
	users        map[string]struct{}
	questions    int
	pos, neu     int
	neg          int
	sentimentSum float64
}

type windowStats struct {
	count, high, medium int
}

// Aggregator holds the state of one session. It is safe for concurrent use.
type Aggregator struct {
	session core.Session
	opts    Options
	log     *slog.Logger

	mu           sync.Mutex
	seen         map[string]struct{}
	total        int
	pos, neu     int
	neg          int
	questions    int
	high         int
	sentimentSum float64
	languages    map[string]int
	topics       map[string]int
	users        map[string]*userStats
	buckets      map[int64]*bucketStats
	windows      map[int64]*windowStats
	events       map[core.EventType]int
	eventIDs     map[string]struct{}

	dirtyUsers   map[string]struct{}
	dirtyBuckets map[int64]struct{}
}

func New(session core.Session, opts Options) *Aggregator {
	opts = opts.withDefaults()
	return &Aggregator{
		session:      session,
		opts:         opts,
		log:          opts.Logger.With("component", "aggregate", "session", session.ID),
		seen:         make(map[string]struct{}),
		languages:    make(map[string]int),
		topics:       make(map[string]int),
		users:        make(map[string]*userStats),
		buckets:      make(map[int64]*bucketStats),
		windows:      make(map[int64]*windowStats),
		events:       make(map[core.EventType]int),
		eventIDs:     make(map[string]struct{}),
		dirtyUsers:   make(map[string]struct{}),
		dirtyBuckets: make(map[int64]struct{}),
	}
}

// Replay rebuilds an aggregator from stored messages and events.
func Replay(session core.Session, msgs []core.UnifiedChatMessage, events []core.StreamEvent, opts Options) *Aggregator {
	a := New(session, opts)
	for _, m := range msgs {
		a.Add(m)
	}
	a.AddEvents(events)
	return a
}

func (a *Aggregator) Session() core.Session { return a.session }

// slot maps ts to a slot index of the given width; anything before the
// session start lands in slot 0.
func (a *Aggregator) slot(ts int64, width time.Duration) int64 {
	off := ts - a.session.SessionStart
	if off < 0 {
		return 0
	}
	return off / width.Milliseconds()
}

// Add folds msg in. It reports false when a message with the same ID was
// already added.
func (a *Aggregator) Add(msg core.UnifiedChatMessage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if msg.ID != "" {
		if _, dup := a.seen[msg.ID]; dup {
			return false
		}
		a.seen[msg.ID] = struct{}{}
	}

	a.total++
	a.sentimentSum += msg.SentimentScore
	switch msg.Sentiment {
	case core.SentimentPositive:
		a.pos++
	case core.SentimentNegative:
		a.neg++
	default:
		a.neu++
	}
	if msg.IsQuestion {
		a.questions++
	}
	if msg.EngagementLevel == core.EngagementHigh {
		a.high++
	}
	lang := msg.Language
	if lang == "" {
		lang = "unknown"
	}
	a.languages[lang]++
	for _, t := range msg.Topics {
		a.topics[t]++
	}

	u := a.users[msg.Username]
	if u == nil {
		u = &userStats{first: msg.Timestamp, last: msg.Timestamp}
		a.users[msg.Username] = u
	}
	u.count++
	u.sentimentSum += msg.SentimentScore
	if msg.DisplayName != "" {
		u.display = msg.DisplayName
	}
	if msg.Platform != "" {
		u.platform = msg.Platform
	}
	if msg.IsQuestion {
		u.questions++
	}
	if msg.EngagementLevel == core.EngagementHigh {
		u.high++
	}
	if msg.Timestamp < u.first {
		u.first = msg.Timestamp
	}
	if msg.Timestamp > u.last {
		u.last = msg.Timestamp
	}
	a.dirtyUsers[msg.Username] = struct{}{}

	idx := a.slot(msg.Timestamp, a.opts.BucketWidth)
	b := a.buckets[idx]
	if b == nil {
		b = &bucketStats{users: make(map[string]struct{})}
		a.buckets[idx] = b
	}
	b.count++
	b.users[msg.Username] = struct{}{}
	b.sentimentSum += msg.SentimentScore
	if msg.IsQuestion {
		b.questions++
	}
	switch msg.Sentiment {
	case core.SentimentPositive:
		b.pos++
	case core.SentimentNegative:
		b.neg++
	default:
		b.neu++
	}
	a.dirtyBuckets[idx] = struct{}{}

	w := a.windows[a.slot(msg.Timestamp, a.opts.PeakWindow)]
	if w == nil {
		w = &windowStats{}
		a.windows[a.slot(msg.Timestamp, a.opts.PeakWindow)] = w
	}
	w.count++
	switch msg.EngagementLevel {
	case core.EngagementHigh:
		w.high++
	case core.EngagementMedium:
		w.medium++
	}
	return true
}

// AddEvents counts events by type, ignoring repeated IDs.
func (a *Aggregator) AddEvents(events []core.StreamEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ev := range events {
		if ev.ID != "" {
			if _, dup := a.eventIDs[ev.ID]; dup {
				continue
			}
			a.eventIDs[ev.ID] = struct{}{}
		}
		a.events[ev.EventType]++
	}
}

func (a *Aggregator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// Snapshot returns the analytics view. Insights are left empty.
func (a *Aggregator) Snapshot() core.SessionAnalytics {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := core.SessionAnalytics{
		TotalMessages:    a.total,
		PositiveMessages: a.pos,
		NeutralMessages:  a.neu,
		NegativeMessages: a.neg,
		Questions:        a.questions,
		HighEngagement:   a.high,
		Languages:        make(map[string]int, len(a.languages)),
		Topics:           make(map[string]int, len(a.topics)),
		UniqueChatters:   len(a.users),
		EventCounts:      make(map[core.EventType]int, len(a.events)),
		MostActive:       []core.ChatterSummary{},
		Peaks:            a.peaksLocked(),
		Insights:         []string{},
	}
	if a.total > 0 {
		out.AverageSentiment = round3(a.sentimentSum / float64(a.total))
	}
	for k, v := range a.languages {
		out.Languages[k] = v
	}
	for k, v := range a.topics {
		out.Topics[k] = v
	}
	for k, v := range a.events {
		out.EventCounts[k] = v
	}

	names := a.sortedUsersLocked()
	if len(names) > a.opts.MostActive {
		names = names[:a.opts.MostActive]
	}
	for _, name := range names {
		u := a.users[name]
		out.MostActive = append(out.MostActive, core.ChatterSummary{Username: name, DisplayName: displayOr(u.display, name), MessageCount: u.count})
	}
	return out
}

func displayOr(display, name string) string {
	if display == "" {
		return name
	}
	return display
}

func (a *Aggregator) sortedUsersLocked() []string {
	names := make([]string, 0, len(a.users))
	for name := range a.users {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := a.users[names[i]].count, a.users[names[j]].count
		if ci != cj {
			return ci > cj
		}
		return names[i] < names[j]
	})
	return names
}

// peaksLocked lists windows whose volume and engagement mix both clear the
// thresholds, in time order.
func (a *Aggregator) peaksLocked() []core.EngagementPeak {
	peaks := []core.EngagementPeak{}
	for idx, w := range a.windows {
		if w.count < a.opts.PeakMinMessages {
			continue
		}
		mix := (float64(w.high) + 0.5*float64(w.medium)) / float64(w.count)
		if mix < a.opts.PeakMinMix {
			continue
		}
		peaks = append(peaks, core.EngagementPeak{
			Timestamp:    a.session.SessionStart + idx*a.opts.PeakWindow.Milliseconds(),
			MessageCount: w.count,
			Intensity:    math.Round(float64(w.count)*(1+mix)*100) / 100,
		})
	}
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].Timestamp < peaks[j].Timestamp })
	return peaks
}

func (a *Aggregator) bucketLocked(idx int64) core.TimelineBucket {
	b := a.buckets[idx]
	out := core.TimelineBucket{
		SessionID:      a.session.ID,
		BucketStart:    a.session.SessionStart + idx*a.opts.BucketWidth.Milliseconds(),
		MessageCount:   b.count,
		UniqueChatters: len(b.users),
		QuestionCount:  b.questions,
		PositiveCount:  b.pos,
		NeutralCount:   b.neu,
		NegativeCount:  b.neg,
		Intensity:      core.IntensityFor(b.count),
	}
	if b.count > 0 {
		out.AverageSentiment = round3(b.sentimentSum / float64(b.count))
	}
	return out
}

// Buckets returns every non-empty bucket in time order.
func (a *Aggregator) Buckets() []core.TimelineBucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	idxs := make([]int64, 0, len(a.buckets))
	for idx := range a.buckets {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	out := make([]core.TimelineBucket, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, a.bucketLocked(idx))
	}
	return out
}

func (a *Aggregator) chatterLocked(name string, recurring map[string]struct{}) core.TopChatterRecord {
	u := a.users[name]
	_, seenBefore := recurring[name]
	rec := core.TopChatterRecord{
		SessionID:      a.session.ID,
		Username:       name,
		DisplayName:    displayOr(u.display, name),
		Platform:       u.platform,
		MessageCount:   u.count,
		QuestionCount:  u.questions,
		HighEngagement: u.high,
		FirstMessageAt: u.first,
		LastMessageAt:  u.last,
		Recurring:      seenBefore,
	}
	if rec.Platform == "" {
		rec.Platform = a.session.Platform
	}
	if u.count > 0 {
		rec.AverageSentiment = round3(u.sentimentSum / float64(u.count))
	}
	return rec
}

// Chatters returns a record per chatter, most active first. recurring is the
// set of usernames seen in the channel's previous sessions.
func (a *Aggregator) Chatters(recurring map[string]struct{}) []core.TopChatterRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := a.sortedUsersLocked()
	out := make([]core.TopChatterRecord, 0, len(names))
	for _, name := range names {
		out = append(out, a.chatterLocked(name, recurring))
	}
	return out
}

type FlushResult struct {
	Chatters       int
	Buckets        int
	FailedChatters int
	FailedBuckets  int
	// Err is a *core.AggregationPartialFailure when any write failed.
	Err error
}

// Flush upserts every chatter and bucket changed since the last flush. Each
// write is independent; failed rows stay pending for the next flush.
func (a *Aggregator) Flush(ctx context.Context, w Writer, recurring map[string]struct{}) FlushResult {
	a.mu.Lock()
	chatters := make([]core.TopChatterRecord, 0, len(a.dirtyUsers))
	for name := range a.dirtyUsers {
		chatters = append(chatters, a.chatterLocked(name, recurring))
	}
	buckets := make([]core.TimelineBucket, 0, len(a.dirtyBuckets))
	idxs := make([]int64, 0, len(a.dirtyBuckets))
	for idx := range a.dirtyBuckets {
		buckets = append(buckets, a.bucketLocked(idx))
		idxs = append(idxs, idx)
	}
	a.dirtyUsers = make(map[string]struct{})
	a.dirtyBuckets = make(map[int64]struct{})
	a.mu.Unlock()

	var (
		res  FlushResult
		errs []error
	)
	var failedUsers []string
	for _, rec := range chatters {
		if err := w.UpsertTopChatter(ctx, rec); err != nil {
			res.FailedChatters++
			failedUsers = append(failedUsers, rec.Username)
			errs = append(errs, err)
			continue
		}
		res.Chatters++
	}
	var failedBuckets []int64
	for i, b := range buckets {
		if err := w.UpsertTimelineBucket(ctx, b); err != nil {
			res.FailedBuckets++
			failedBuckets = append(failedBuckets, idxs[i])
			errs = append(errs, err)
			continue
		}
		res.Buckets++
	}

	if len(errs) == 0 {
		return res
	}
	a.mu.Lock()
	for _, name := range failedUsers {
		a.dirtyUsers[name] = struct{}{}
	}
	for _, idx := range failedBuckets {
		a.dirtyBuckets[idx] = struct{}{}
	}
	a.mu.Unlock()

	res.Err = &core.AggregationPartialFailure{
		SessionID:      a.session.ID,
		FailedChatters: res.FailedChatters,
		FailedBuckets:  res.FailedBuckets,
		Err:            errors.Join(errs...),
	}
	a.log.Warn("aggregate: partial flush", "chatters_ok", res.Chatters, "buckets_ok", res.Buckets,
		"chatters_failed", res.FailedChatters, "buckets_failed", res.FailedBuckets, "err", firstErr(errs))
	return res
}

func firstErr(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	if len(errs) == 1 {
		return errs[0].Error()
	}
	return fmt.Sprintf("%v (and %d more)", errs[0], len(errs)-1)
}
