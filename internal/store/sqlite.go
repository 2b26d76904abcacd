package store

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lookup-bot/internal/model"
)

// SQLiteSink stores events in a local SQLite database using
// modernc.org/sqlite.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens the database at dsn and configures WAL mode.
func NewSQLiteSink(dsn string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteSink{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS request_stats (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	ts       INTEGER NOT NULL,
	source   TEXT NOT NULL,
	run_id   TEXT NOT NULL DEFAULT '',
	chat_id  INTEGER NOT NULL DEFAULT 0,
	q_len    INTEGER NOT NULL,
	dur      REAL NOT NULL,
	ok       INTEGER NOT NULL,
	ms_len   INTEGER NOT NULL,
	out_len  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_request_stats_ts ON request_stats(ts);
CREATE INDEX IF NOT EXISTS idx_request_stats_source ON request_stats(source);
`

// Migrate creates the request_stats table.
func (s *SQLiteSink) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Append inserts events in a single transaction.
func (s *SQLiteSink) Append(ctx context.Context, events []model.StatEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO request_stats (ts, source, run_id, chat_id, q_len, dur, ok, ms_len, out_len) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return eris.Wrap(err, "sqlite: prepare insert stat")
	}
	defer stmt.Close() //nolint:errcheck

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.Timestamp, ev.Source, ev.RunID, ev.ChatID, ev.QueryLen, ev.Duration, ev.OK, ev.CorpusLen, ev.OutputLen,
		); err != nil {
			tx.Rollback() //nolint:errcheck
			return eris.Wrap(err, "sqlite: insert stat")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit stats")
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
