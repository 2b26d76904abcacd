package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lookup-bot/internal/model"
)

// Pool is the subset of *pgxpool.Pool used by the Postgres sink.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink stores events in a shared Postgres database.
type PostgresSink struct {
	pool Pool
}

// NewPostgresSink connects a small pool to connString.
func NewPostgresSink(ctx context.Context, connString string) (*PostgresSink, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresSink{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS request_stats (
	id       BIGSERIAL PRIMARY KEY,
	ts       TIMESTAMPTZ NOT NULL,
	source   TEXT NOT NULL,
	run_id   TEXT NOT NULL DEFAULT '',
	chat_id  BIGINT NOT NULL DEFAULT 0,
	q_len    INTEGER NOT NULL,
	dur      DOUBLE PRECISION NOT NULL,
	ok       BOOLEAN NOT NULL,
	ms_len   INTEGER NOT NULL,
	out_len  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_request_stats_ts ON request_stats(ts);
`

// Migrate creates the request_stats table.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

const insertStat = `INSERT INTO request_stats (ts, source, run_id, chat_id, q_len, dur, ok, ms_len, out_len) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Append inserts events in a single transaction.
func (s *PostgresSink) Append(ctx context.Context, events []model.StatEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	for _, ev := range events {
		if _, err := tx.Exec(ctx, insertStat,
			time.Unix(ev.Timestamp, 0).UTC(), ev.Source, ev.RunID, ev.ChatID, ev.QueryLen, ev.Duration, ev.OK, ev.CorpusLen, ev.OutputLen,
		); err != nil {
			tx.Rollback(ctx) //nolint:errcheck
			return eris.Wrap(err, "postgres: insert stat")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit stats")
}

// Close releases the pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
