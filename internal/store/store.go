// Package store persists the bot's state: the greeted-chat set and usage
// statistics.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lookup-bot/internal/config"
	"github.com/sells-group/lookup-bot/internal/model"
)

// StatsSink appends batches of usage events to durable storage.
type StatsSink interface {
	Append(ctx context.Context, events []model.StatEvent) error
	Close() error
}

// OpenStatsSink opens the sink selected by cfg.Driver and prepares its
// schema.
func OpenStatsSink(ctx context.Context, cfg config.StatsConfig) (StatsSink, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileSink(cfg.Path), nil
	case "sqlite":
		s, err := NewSQLiteSink(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresSink(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown stats driver %q", cfg.Driver)
	}
}
