package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/you/streampulse/internal/core"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// SQLStore implements Store over database/sql. Timestamps are stored as
// epoch milliseconds so both engines compare them the same way.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		path = "streampulse.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One writer connection avoids SQLITE_BUSY between pipelines.
	db.SetMaxOpenConns(1)
	if err := configureSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	s := &SQLStore{db: db, dialect: dialectPostgres}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Kind names the backend, "sqlite" or "postgres".
func (s *SQLStore) Kind() string { return s.dialect.String() }

func (s *SQLStore) String() string {
	return fmt.Sprintf("SQLStore{%s %p}", s.dialect, s.db)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

const sessionColumns = `id, channel_name, platform, session_start, session_end, duration_minutes,
peak_viewer_count, total_messages, report_generated, report_sent`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (core.Session, error) {
	var (
		sess     core.Session
		platform string
		end      sql.NullInt64
	)
	if err := r.Scan(&sess.ID, &sess.ChannelName, &platform, &sess.SessionStart, &end, &sess.DurationMinutes,
		&sess.PeakViewerCount, &sess.TotalMessages, &sess.ReportGenerated, &sess.ReportSent); err != nil {
		return core.Session{}, err
	}
	sess.Platform = core.Platform(platform)
	if end.Valid {
		v := end.Int64
		sess.SessionEnd = &v
	}
	return sess, nil
}

func (s *SQLStore) OpenSession(ctx context.Context, channel string, platform core.Platform, start time.Time) (core.Session, bool, error) {
	channel = normalizeChannel(channel)
	res, err := s.exec(ctx, `INSERT INTO sessions (id, channel_name, platform, session_start)
VALUES (?, ?, ?, ?)
ON CONFLICT DO NOTHING;`, uuid.NewString(), channel, string(platform), start.UnixMilli())
	if err != nil {
		return core.Session{}, false, errors.Wrap(err, "insert session")
	}
	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}
	row := s.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
WHERE channel_name = ? AND platform = ? AND session_end IS NULL;`, channel, string(platform))
	sess, err := scanSession(row)
	if err != nil {
		return core.Session{}, false, errors.Wrap(err, "load open session")
	}
	return sess, created, nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (core.Session, error) {
	sess, err := scanSession(s.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Session{}, ErrNotFound
	}
	if err != nil {
		return core.Session{}, errors.Wrap(err, "get session")
	}
	return sess, nil
}

func (s *SQLStore) UpsertSession(ctx context.Context, sess core.Session) error {
	res, err := s.exec(ctx, `UPDATE sessions
SET total_messages = ?, peak_viewer_count = CASE WHEN peak_viewer_count > ? THEN peak_viewer_count ELSE ? END
WHERE id = ? AND session_end IS NULL;`, sess.TotalMessages, sess.PeakViewerCount, sess.PeakViewerCount, sess.ID)
	if err != nil {
		return errors.Wrap(err, "update session")
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	cur, err := s.GetSession(ctx, sess.ID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !cur.Open() {
		return ErrSessionEnded
	}
	return nil
}

func (s *SQLStore) EndSession(ctx context.Context, id string, end time.Time, totalMessages int) (core.Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return core.Session{}, err
	}
	if !sess.Open() {
		return sess, nil
	}
	endMs := end.UnixMilli()
	duration := int((endMs - sess.SessionStart) / 60000)
	if duration < 0 {
		duration = 0
	}
	if _, err := s.exec(ctx, `UPDATE sessions
SET session_end = ?, duration_minutes = ?, total_messages = ?
WHERE id = ? AND session_end IS NULL;`, endMs, duration, totalMessages, id); err != nil {
		return core.Session{}, errors.Wrap(err, "end session")
	}
	return s.GetSession(ctx, id)
}

func (s *SQLStore) MarkReport(ctx context.Context, id string, flag ReportFlag) (bool, error) {
	var q string
	switch flag {
	case ReportGenerated:
		q = `UPDATE sessions SET report_generated = TRUE WHERE id = ? AND NOT report_generated;`
	case ReportSent:
		q = `UPDATE sessions SET report_sent = TRUE WHERE id = ? AND NOT report_sent;`
	default:
		return false, fmt.Errorf("store: unknown report flag %q", flag)
	}
	res, err := s.exec(ctx, q, id)
	if err != nil {
		return false, errors.Wrap(err, "mark report")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "mark report rows")
	}
	return n > 0, nil
}

func (s *SQLStore) StaleOpenSessions(ctx context.Context, startedBefore time.Time, limit int) ([]core.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `SELECT `+sessionColumns+` FROM sessions
WHERE session_end IS NULL AND session_start < ?
ORDER BY session_start ASC LIMIT ?;`, startedBefore.UnixMilli(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "stale sessions")
	}
	defer rows.Close()
	var out []core.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		out = append(out, sess)
	}
	return out, errors.Wrap(rows.Err(), "iterate sessions")
}

func (s *SQLStore) PreviousSession(ctx context.Context, cur core.Session) (core.Session, error) {
	row := s.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
WHERE channel_name = ? AND platform = ? AND session_end IS NOT NULL AND session_start < ? AND id <> ?
ORDER BY session_start DESC LIMIT 1;`, normalizeChannel(cur.ChannelName), string(cur.Platform), cur.SessionStart, cur.ID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Session{}, ErrNotFound
	}
	if err != nil {
		return core.Session{}, errors.Wrap(err, "previous session")
	}
	return sess, nil
}

func (s *SQLStore) RecentChatters(ctx context.Context, channel string, platform core.Platform, before int64, n int) (map[string]struct{}, error) {
	if n <= 0 {
		return map[string]struct{}{}, nil
	}
	rows, err := s.query(ctx, `SELECT DISTINCT m.username FROM messages m
WHERE m.session_id IN (
  SELECT id FROM sessions
  WHERE channel_name = ? AND platform = ? AND session_start < ?
  ORDER BY session_start DESC LIMIT ?
);`, normalizeChannel(channel), string(platform), before, n)
	if err != nil {
		return nil, errors.Wrap(err, "recent chatters")
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan chatter")
		}
		out[name] = struct{}{}
	}
	return out, errors.Wrap(rows.Err(), "iterate chatters")
}

func (s *SQLStore) InsertMessages(ctx context.Context, sessionID string, msgs []core.UnifiedChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO messages (
  session_id, id, platform_message_id, platform, channel, username, display_name, user_id, message, ts,
  language, language_confidence, sentiment, sentiment_score, sentiment_reason, is_question, question_type,
  engagement_level, topics_json, degraded)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING;`))
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, m := range msgs {
		topics, err := json.Marshal(nonNilTopics(m.Topics))
		if err != nil {
			return errors.Wrap(err, "encode topics")
		}
		if _, err := stmt.ExecContext(ctx, sessionID, m.ID, m.PlatformMessageID, string(m.Platform), m.Channel,
			m.Username, m.DisplayName, m.UserID, m.Message, m.Timestamp,
			m.Language, m.LanguageConfidence, string(m.Sentiment), m.SentimentScore, m.SentimentReason,
			m.IsQuestion, string(m.QuestionType), string(m.EngagementLevel), string(topics), m.Degraded); err != nil {
			return errors.Wrapf(err, "insert message %s", m.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit messages")
}

func nonNilTopics(t []string) []string {
	if t == nil {
		return []string{}
	}
	return t
}

func (s *SQLStore) SessionMessages(ctx context.Context, sessionID string) ([]core.UnifiedChatMessage, error) {
	rows, err := s.query(ctx, `SELECT id, platform_message_id, platform, channel, username, display_name, user_id, message, ts,
  language, language_confidence, sentiment, sentiment_score, sentiment_reason, is_question, question_type,
  engagement_level, topics_json, degraded
FROM messages WHERE session_id = ? ORDER BY ts ASC, id ASC;`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	var out []core.UnifiedChatMessage
	for rows.Next() {
		var (
			m                                 core.UnifiedChatMessage
			platform, sentiment, qtype, level string
			topics                            string
		)
		if err := rows.Scan(&m.ID, &m.PlatformMessageID, &platform, &m.Channel, &m.Username, &m.DisplayName, &m.UserID,
			&m.Message, &m.Timestamp, &m.Language, &m.LanguageConfidence, &sentiment, &m.SentimentScore,
			&m.SentimentReason, &m.IsQuestion, &qtype, &level, &topics, &m.Degraded); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		m.Platform = core.Platform(platform)
		m.Sentiment = core.Sentiment(sentiment)
		m.QuestionType = core.QuestionType(qtype)
		m.EngagementLevel = core.EngagementLevel(level)
		if err := json.Unmarshal([]byte(topics), &m.Topics); err != nil {
			m.Topics = nil
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "iterate messages")
}

func (s *SQLStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?;`, sessionID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count messages")
	}
	return n, nil
}

func (s *SQLStore) InsertEvents(ctx context.Context, events []core.StreamEvent) error {
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		data, err := json.Marshal(ev.EventData)
		if err != nil {
			return errors.Wrap(err, "encode event data")
		}
		if _, err := s.exec(ctx, `INSERT INTO stream_events (id, channel, platform, event_type, user_id, user_name, display_name, event_data_json, ts)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING;`, ev.ID, normalizeChannel(ev.Channel), string(ev.Platform), string(ev.EventType),
			ev.UserID, ev.UserName, ev.DisplayName, string(data), ev.Timestamp); err != nil {
			return errors.Wrapf(err, "insert event %s", ev.ID)
		}
	}
	return nil
}

func (s *SQLStore) ChannelEvents(ctx context.Context, channel string, platform core.Platform, from, to int64) ([]core.StreamEvent, error) {
	rows, err := s.query(ctx, `SELECT id, channel, platform, event_type, user_id, user_name, display_name, event_data_json, ts
FROM stream_events
WHERE channel = ? AND platform = ? AND ts >= ? AND ts <= ?
ORDER BY ts ASC, id ASC;`, normalizeChannel(channel), string(platform), from, to)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()

	var out []core.StreamEvent
	for rows.Next() {
		var (
			ev             core.StreamEvent
			platform, kind string
			data           string
		)
		if err := rows.Scan(&ev.ID, &ev.Channel, &platform, &kind, &ev.UserID, &ev.UserName, &ev.DisplayName, &data, &ev.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		ev.Platform = core.Platform(platform)
		ev.EventType = core.EventType(kind)
		if data != "" && data != "null" {
			_ = json.Unmarshal([]byte(data), &ev.EventData)
		}
		out = append(out, ev)
	}
	return out, errors.Wrap(rows.Err(), "iterate events")
}

func (s *SQLStore) UpsertTopChatter(ctx context.Context, rec core.TopChatterRecord) error {
	_, err := s.exec(ctx, `INSERT INTO top_chatters (session_id, username, display_name, platform, message_count,
  question_count, average_sentiment, high_engagement, first_message_at, last_message_at, recurring)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (session_id, username) DO UPDATE SET
  display_name = excluded.display_name,
  platform = excluded.platform,
  message_count = excluded.message_count,
  question_count = excluded.question_count,
  average_sentiment = excluded.average_sentiment,
  high_engagement = excluded.high_engagement,
  first_message_at = excluded.first_message_at,
  last_message_at = excluded.last_message_at,
  recurring = excluded.recurring;`,
		rec.SessionID, rec.Username, rec.DisplayName, string(rec.Platform), rec.MessageCount, rec.QuestionCount,
		rec.AverageSentiment, rec.HighEngagement, rec.FirstMessageAt, rec.LastMessageAt, rec.Recurring)
	return errors.Wrapf(err, "upsert chatter %s", rec.Username)
}

func (s *SQLStore) UpsertTimelineBucket(ctx context.Context, b core.TimelineBucket) error {
	_, err := s.exec(ctx, `INSERT INTO timeline_buckets (session_id, bucket_start, message_count, unique_chatters,
  question_count, positive_count, neutral_count, negative_count, average_sentiment, intensity)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (session_id, bucket_start) DO UPDATE SET
  message_count = excluded.message_count,
  unique_chatters = excluded.unique_chatters,
  question_count = excluded.question_count,
  positive_count = excluded.positive_count,
  neutral_count = excluded.neutral_count,
  negative_count = excluded.negative_count,
  average_sentiment = excluded.average_sentiment,
  intensity = excluded.intensity;`,
		b.SessionID, b.BucketStart, b.MessageCount, b.UniqueChatters, b.QuestionCount, b.PositiveCount,
		b.NeutralCount, b.NegativeCount, b.AverageSentiment, string(b.Intensity))
	return errors.Wrapf(err, "upsert bucket %d", b.BucketStart)
}

func (s *SQLStore) TopChatters(ctx context.Context, sessionID string, limit int) ([]core.TopChatterRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, `SELECT session_id, username, display_name, platform, message_count, question_count,
  average_sentiment, high_engagement, first_message_at, last_message_at, recurring
FROM top_chatters WHERE session_id = ?
ORDER BY message_count DESC, username ASC LIMIT ?;`, sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list chatters")
	}
	defer rows.Close()
	var out []core.TopChatterRecord
	for rows.Next() {
		var (
			rec      core.TopChatterRecord
			platform string
		)
		if err := rows.Scan(&rec.SessionID, &rec.Username, &rec.DisplayName, &platform, &rec.MessageCount, &rec.QuestionCount,
			&rec.AverageSentiment, &rec.HighEngagement, &rec.FirstMessageAt, &rec.LastMessageAt, &rec.Recurring); err != nil {
			return nil, errors.Wrap(err, "scan chatter")
		}
		rec.Platform = core.Platform(platform)
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "iterate chatters")
}

func (s *SQLStore) TimelineBuckets(ctx context.Context, sessionID string) ([]core.TimelineBucket, error) {
	rows, err := s.query(ctx, `SELECT session_id, bucket_start, message_count, unique_chatters, question_count,
  positive_count, neutral_count, negative_count, average_sentiment, intensity
FROM timeline_buckets WHERE session_id = ? ORDER BY bucket_start ASC;`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "list buckets")
	}
	defer rows.Close()
	var out []core.TimelineBucket
	for rows.Next() {
		var (
			b         core.TimelineBucket
			intensity string
		)
		if err := rows.Scan(&b.SessionID, &b.BucketStart, &b.MessageCount, &b.UniqueChatters, &b.QuestionCount,
			&b.PositiveCount, &b.NeutralCount, &b.NegativeCount, &b.AverageSentiment, &intensity); err != nil {
			return nil, errors.Wrap(err, "scan bucket")
		}
		b.Intensity = core.Intensity(intensity)
		out = append(out, b)
	}
	return out, errors.Wrap(rows.Err(), "iterate buckets")
}
