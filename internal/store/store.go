// Package store persists sessions, classified messages, stream events and
// the per-session rollups. SQLStore backs SQLite and Postgres; MemoryStore
// is the in-process implementation used for tests and ephemeral runs.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/you/streampulse/internal/core"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrSessionEnded is returned when live counters are written to a
	// session that has already been finalized.
	ErrSessionEnded = errors.New("store: session already ended")
)

// ReportFlag names one of the two set-once report columns on a session.
type ReportFlag string

const (
	ReportGenerated ReportFlag = "report_generated"
	ReportSent      ReportFlag = "report_sent"
)

type Store interface {
	// OpenSession returns the open session for (channel, platform), creating
	// one that starts at start when none exists. created reports which.
	OpenSession(ctx context.Context, channel string, platform core.Platform, start time.Time) (s core.Session, created bool, err error)
	GetSession(ctx context.Context, id string) (core.Session, error)
	// UpsertSession writes the live counters of an open session. Ended
	// sessions are left untouched and yield ErrSessionEnded.
	UpsertSession(ctx context.Context, s core.Session) error
	// EndSession closes an open session and returns the stored row. Ending an
	// already ended session returns it unchanged.
	EndSession(ctx context.Context, id string, end time.Time, totalMessages int) (core.Session, error)
	// MarkReport sets flag once. changed is false when it was already set.
	MarkReport(ctx context.Context, id string, flag ReportFlag) (changed bool, err error)
	StaleOpenSessions(ctx context.Context, startedBefore time.Time, limit int) ([]core.Session, error)
	// PreviousSession is the most recent ended session on the same channel
	// and platform that started before s.
	PreviousSession(ctx context.Context, s core.Session) (core.Session, error)
	// RecentChatters returns the usernames that sent a stored message in the
	// last n sessions of the channel that started before the given epoch
	// millis.
	RecentChatters(ctx context.Context, channel string, platform core.Platform, before int64, n int) (map[string]struct{}, error)

	InsertMessages(ctx context.Context, sessionID string, msgs []core.UnifiedChatMessage) error
	SessionMessages(ctx context.Context, sessionID string) ([]core.UnifiedChatMessage, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)

	InsertEvents(ctx context.Context, events []core.StreamEvent) error
	ChannelEvents(ctx context.Context, channel string, platform core.Platform, from, to int64) ([]core.StreamEvent, error)

	UpsertTopChatter(ctx context.Context, rec core.TopChatterRecord) error
	UpsertTimelineBucket(ctx context.Context, b core.TimelineBucket) error
	TopChatters(ctx context.Context, sessionID string, limit int) ([]core.TopChatterRecord, error)
	TimelineBuckets(ctx context.Context, sessionID string) ([]core.TimelineBucket, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open picks an implementation from dsn: "memory", a postgres:// URL, or a
// SQLite path.
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "memory" || dsn == ":memory:":
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	default:
		return OpenSQLite(ctx, dsn)
	}
}

func normalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}
