package store

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/pkg/errors"
)

// Pragmas every SQLite store runs with. Pipelines write concurrently with
// report reads, so the journal must be WAL.
var sqliteRequired = []string{
	"PRAGMA journal_mode=wal;",
	"PRAGMA busy_timeout=5000;",
}

// Opt-in tuning for large channels, enabled with STREAMPULSE_SQLITE_TUNING=1.
var sqliteTuning = []string{
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA wal_autocheckpoint=1000;",
	"PRAGMA temp_store=MEMORY;",
	"PRAGMA mmap_size=268435456;",
}

func configureSQLite(ctx context.Context, db *sql.DB) error {
	for _, p := range sqliteRequired {
		if _, err := runPragma(ctx, db, p); err != nil {
			return errors.Wrapf(err, "sqlite %s", p)
		}
	}
	if os.Getenv("STREAMPULSE_SQLITE_TUNING") != "1" {
		return nil
	}
	for _, p := range sqliteTuning {
		value, err := runPragma(ctx, db, p)
		if err != nil {
			slog.Warn("store: sqlite tuning skipped", "pragma", p, "err", err)
			continue
		}
		slog.Debug("store: sqlite tuning", "pragma", p, "value", value)
	}
	return nil
}

// runPragma returns the value a pragma reports, or "ok" for pragmas that
// produce no row.
func runPragma(ctx context.Context, db *sql.DB, pragma string) (any, error) {
	var value any
	err := db.QueryRowContext(ctx, pragma).Scan(&value)
	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, err
		}
		return "ok", nil
	default:
		return nil, err
	}
}
