package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  channel_name TEXT NOT NULL,
  platform TEXT NOT NULL,
  session_start BIGINT NOT NULL,
  session_end BIGINT,
  duration_minutes INTEGER NOT NULL DEFAULT 0,
  peak_viewer_count INTEGER NOT NULL DEFAULT 0,
  total_messages INTEGER NOT NULL DEFAULT 0,
  report_generated BOOLEAN NOT NULL DEFAULT FALSE,
  report_sent BOOLEAN NOT NULL DEFAULT FALSE
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sessions_one_open ON sessions (channel_name, platform) WHERE session_end IS NULL;`,
	`CREATE INDEX IF NOT EXISTS sessions_channel_start ON sessions (channel_name, platform, session_start);`,
	`CREATE TABLE IF NOT EXISTS messages (
  session_id TEXT NOT NULL,
  id TEXT NOT NULL,
  platform_message_id TEXT NOT NULL DEFAULT '',
  platform TEXT NOT NULL,
  channel TEXT NOT NULL,
  username TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  user_id TEXT NOT NULL DEFAULT '',
  message TEXT NOT NULL,
  ts BIGINT NOT NULL,
  language TEXT NOT NULL DEFAULT 'unknown',
  language_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
  sentiment TEXT NOT NULL DEFAULT 'neutral',
  sentiment_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  sentiment_reason TEXT NOT NULL DEFAULT '',
  is_question BOOLEAN NOT NULL DEFAULT FALSE,
  question_type TEXT NOT NULL DEFAULT '',
  engagement_level TEXT NOT NULL DEFAULT 'low',
  topics_json TEXT NOT NULL DEFAULT '[]',
  PRIMARY KEY (session_id, id)
);`,
	`CREATE INDEX IF NOT EXISTS messages_session_ts ON messages (session_id, ts);`,
	`CREATE TABLE IF NOT EXISTS stream_events (
  id TEXT PRIMARY KEY,
  channel TEXT NOT NULL,
  platform TEXT NOT NULL,
  event_type TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  user_name TEXT NOT NULL DEFAULT '',
  display_name TEXT NOT NULL DEFAULT '',
  event_data_json TEXT NOT NULL DEFAULT '{}',
  ts BIGINT NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS stream_events_channel_ts ON stream_events (channel, platform, ts);`,
	`CREATE TABLE IF NOT EXISTS top_chatters (
  session_id TEXT NOT NULL,
  username TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  platform TEXT NOT NULL,
  message_count INTEGER NOT NULL DEFAULT 0,
  question_count INTEGER NOT NULL DEFAULT 0,
  average_sentiment DOUBLE PRECISION NOT NULL DEFAULT 0,
  high_engagement INTEGER NOT NULL DEFAULT 0,
  first_message_at BIGINT NOT NULL DEFAULT 0,
  last_message_at BIGINT NOT NULL DEFAULT 0,
  recurring BOOLEAN NOT NULL DEFAULT FALSE,
  PRIMARY KEY (session_id, username)
);`,
	`CREATE TABLE IF NOT EXISTS timeline_buckets (
  session_id TEXT NOT NULL,
  bucket_start BIGINT NOT NULL,
  message_count INTEGER NOT NULL DEFAULT 0,
  unique_chatters INTEGER NOT NULL DEFAULT 0,
  question_count INTEGER NOT NULL DEFAULT 0,
  positive_count INTEGER NOT NULL DEFAULT 0,
  neutral_count INTEGER NOT NULL DEFAULT 0,
  negative_count INTEGER NOT NULL DEFAULT 0,
  average_sentiment DOUBLE PRECISION NOT NULL DEFAULT 0,
  intensity TEXT NOT NULL DEFAULT 'low',
  PRIMARY KEY (session_id, bucket_start)
);`,
}

// addedColumns are columns introduced after the first schema; older
// databases get them via ALTER TABLE.
var addedColumns = []struct {
	table, column, ddl string
}{
	{"messages", "degraded", `ALTER TABLE messages ADD COLUMN degraded BOOLEAN NOT NULL DEFAULT FALSE;`},
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply schema")
		}
	}
	for _, c := range addedColumns {
		has, err := s.hasColumn(ctx, c.table, c.column)
		if err != nil {
			return errors.Wrapf(err, "inspect %s", c.table)
		}
		if has {
			continue
		}
		if _, err := s.db.ExecContext(ctx, c.ddl); err != nil {
			return errors.Wrapf(err, "add %s.%s", c.table, c.column)
		}
		slog.Info("store: added column", "table", c.table, "column", c.column)
	}

	if s.dialect == dialectSQLite {
		version, err := sqliteUserVersion(ctx, s.db)
		if err != nil {
			return errors.Wrap(err, "sqlite user_version")
		}
		hasIndex, err := sqliteHasIndex(ctx, s.db, "sessions", "sessions_one_open")
		if err != nil {
			return errors.Wrap(err, "sqlite inspect indices")
		}
		slog.Info("store: sqlite ready", "path", sqlitePath(ctx, s.db), "user_version", version, "sessions_one_open", hasIndex)
	}
	return nil
}

func (s *SQLStore) hasColumn(ctx context.Context, table, column string) (bool, error) {
	if s.dialect == dialectSQLite {
		cols, err := sqliteTableInfo(ctx, s.db, table)
		if err != nil {
			return false, err
		}
		_, ok := cols[column]
		return ok, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2;`, table, column).Scan(&n)
	return n > 0, err
}

type sqliteColumn struct {
	Name        string
	Type        string
	NotNull     bool
	DefaultText string
}

func sqlitePath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	return "(unknown)"
}

func sqliteUserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func sqliteTableInfo(ctx context.Context, db *sql.DB, table string) (map[string]sqliteColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]sqliteColumn)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(name))] = sqliteColumn{
			Name:        name,
			Type:        strings.TrimSpace(colType),
			NotNull:     notNull == 1,
			DefaultText: strings.TrimSpace(defaultVal.String),
		}
	}
	return out, rows.Err()
}

func sqliteHasIndex(ctx context.Context, db *sql.DB, table, index string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list('%s');`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), index) {
			return true, nil
		}
	}
	return false, rows.Err()
}
