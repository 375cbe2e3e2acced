package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/you/streampulse/internal/core"
)

// MemoryStore is a thread-safe in-memory Store. The *Err hooks let tests
// fail individual writes.
type MemoryStore struct {
	mu sync.Mutex

	sessions map[string]core.Session
	messages map[string]map[string]core.UnifiedChatMessage
	events   map[string]core.StreamEvent
	chatters map[string]map[string]core.TopChatterRecord
	buckets  map[string]map[int64]core.TimelineBucket

	ChatterErr func(core.TopChatterRecord) error
	BucketErr  func(core.TimelineBucket) error
	InsertErr  error
	StaleErr   error
	EndErr     error

	InsertCalls int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]core.Session),
		messages: make(map[string]map[string]core.UnifiedChatMessage),
		events:   make(map[string]core.StreamEvent),
		chatters: make(map[string]map[string]core.TopChatterRecord),
		buckets:  make(map[string]map[int64]core.TimelineBucket),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Kind() string { return "memory" }

func (m *MemoryStore) Close() error { return nil }

func copySession(s core.Session) core.Session {
	if s.SessionEnd != nil {
		v := *s.SessionEnd
		s.SessionEnd = &v
	}
	return s
}

// PutSession stores s as-is, for seeding tests.
func (m *MemoryStore) PutSession(s core.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ChannelName = normalizeChannel(s.ChannelName)
	m.sessions[s.ID] = copySession(s)
}

func (m *MemoryStore) OpenSession(_ context.Context, channel string, platform core.Platform, start time.Time) (core.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channel = normalizeChannel(channel)
	for _, s := range m.sessions {
		if s.Open() && s.ChannelName == channel && s.Platform == platform {
			return copySession(s), false, nil
		}
	}
	s := core.Session{ID: uuid.NewString(), ChannelName: channel, Platform: platform, SessionStart: start.UnixMilli()}
	m.sessions[s.ID] = s
	return copySession(s), true, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return core.Session{}, ErrNotFound
	}
	return copySession(s), nil
}

func (m *MemoryStore) UpsertSession(_ context.Context, s core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return nil
	}
	if !cur.Open() {
		return ErrSessionEnded
	}
	cur.TotalMessages = s.TotalMessages
	if s.PeakViewerCount > cur.PeakViewerCount {
		cur.PeakViewerCount = s.PeakViewerCount
	}
	m.sessions[s.ID] = cur
	return nil
}

func (m *MemoryStore) EndSession(_ context.Context, id string, end time.Time, totalMessages int) (core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EndErr != nil {
		return core.Session{}, m.EndErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return core.Session{}, ErrNotFound
	}
	if !s.Open() {
		return copySession(s), nil
	}
	endMs := end.UnixMilli()
	s.SessionEnd = &endMs
	s.DurationMinutes = int((endMs - s.SessionStart) / 60000)
	if s.DurationMinutes < 0 {
		s.DurationMinutes = 0
	}
	s.TotalMessages = totalMessages
	m.sessions[id] = s
	return copySession(s), nil
}

func (m *MemoryStore) MarkReport(_ context.Context, id string, flag ReportFlag) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	changed := false
	switch flag {
	case ReportGenerated:
		changed = !s.ReportGenerated
		s.ReportGenerated = true
	case ReportSent:
		changed = !s.ReportSent
		s.ReportSent = true
	default:
		return false, fmt.Errorf("store: unknown report flag %q", flag)
	}
	m.sessions[id] = s
	return changed, nil
}

func (m *MemoryStore) StaleOpenSessions(_ context.Context, startedBefore time.Time, limit int) ([]core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StaleErr != nil {
		return nil, m.StaleErr
	}
	if limit <= 0 {
		limit = 50
	}
	cutoff := startedBefore.UnixMilli()
	var out []core.Session
	for _, s := range m.sessions {
		if s.Open() && s.SessionStart < cutoff {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionStart < out[j].SessionStart })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) channelSessions(channel string, platform core.Platform, before int64) []core.Session {
	var out []core.Session
	for _, s := range m.sessions {
		if s.ChannelName == channel && s.Platform == platform && s.SessionStart < before {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionStart > out[j].SessionStart })
	return out
}

func (m *MemoryStore) PreviousSession(_ context.Context, cur core.Session) (core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.channelSessions(normalizeChannel(cur.ChannelName), cur.Platform, cur.SessionStart) {
		if s.ID != cur.ID && !s.Open() {
			return copySession(s), nil
		}
	}
	return core.Session{}, ErrNotFound
}

func (m *MemoryStore) RecentChatters(_ context.Context, channel string, platform core.Platform, before int64, n int) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	prior := m.channelSessions(normalizeChannel(channel), platform, before)
	if len(prior) > n {
		prior = prior[:n]
	}
	for _, s := range prior {
		for _, msg := range m.messages[s.ID] {
			out[msg.Username] = struct{}{}
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertMessages(_ context.Context, sessionID string, msgs []core.UnifiedChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertCalls++
	if m.InsertErr != nil {
		return m.InsertErr
	}
	bySession := m.messages[sessionID]
	if bySession == nil {
		bySession = make(map[string]core.UnifiedChatMessage)
		m.messages[sessionID] = bySession
	}
	for _, msg := range msgs {
		if _, dup := bySession[msg.ID]; dup {
			continue
		}
		bySession[msg.ID] = msg
	}
	return nil
}

func (m *MemoryStore) SessionMessages(_ context.Context, sessionID string) ([]core.UnifiedChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.UnifiedChatMessage, 0, len(m.messages[sessionID]))
	for _, msg := range m.messages[sessionID] {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CountMessages(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[sessionID]), nil
}

func (m *MemoryStore) InsertEvents(_ context.Context, events []core.StreamEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if _, dup := m.events[ev.ID]; dup {
			continue
		}
		ev.Channel = normalizeChannel(ev.Channel)
		m.events[ev.ID] = ev
	}
	return nil
}

func (m *MemoryStore) ChannelEvents(_ context.Context, channel string, platform core.Platform, from, to int64) ([]core.StreamEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channel = normalizeChannel(channel)
	var out []core.StreamEvent
	for _, ev := range m.events {
		if ev.Channel == channel && ev.Platform == platform && ev.Timestamp >= from && ev.Timestamp <= to {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpsertTopChatter(_ context.Context, rec core.TopChatterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ChatterErr != nil {
		if err := m.ChatterErr(rec); err != nil {
			return err
		}
	}
	bySession := m.chatters[rec.SessionID]
	if bySession == nil {
		bySession = make(map[string]core.TopChatterRecord)
		m.chatters[rec.SessionID] = bySession
	}
	bySession[rec.Username] = rec
	return nil
}

func (m *MemoryStore) UpsertTimelineBucket(_ context.Context, b core.TimelineBucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BucketErr != nil {
		if err := m.BucketErr(b); err != nil {
			return err
		}
	}
	bySession := m.buckets[b.SessionID]
	if bySession == nil {
		bySession = make(map[int64]core.TimelineBucket)
		m.buckets[b.SessionID] = bySession
	}
	bySession[b.BucketStart] = b
	return nil
}

func (m *MemoryStore) TopChatters(_ context.Context, sessionID string, limit int) ([]core.TopChatterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]core.TopChatterRecord, 0, len(m.chatters[sessionID]))
	for _, rec := range m.chatters[sessionID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MessageCount != out[j].MessageCount {
			return out[i].MessageCount > out[j].MessageCount
		}
		return out[i].Username < out[j].Username
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) TimelineBuckets(_ context.Context, sessionID string) ([]core.TimelineBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.TimelineBucket, 0, len(m.buckets[sessionID]))
	for _, b := range m.buckets[sessionID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart < out[j].BucketStart })
	return out, nil
}
