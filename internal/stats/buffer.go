// Package stats buffers usage events in memory and flushes them to a sink
// periodically.
package stats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lookup-bot/internal/model"
	"github.com/sells-group/lookup-bot/internal/resilience"
)

// DefaultFlushInterval is used when NewBuffer gets a non-positive interval.
const DefaultFlushInterval = 60 * time.Second

// Sink persists a batch of events.
type Sink interface {
	Append(ctx context.Context, events []model.StatEvent) error
}

// Buffer collects events from concurrent sessions. Events are flushed in
// record order; a failed flush is logged and its batch dropped.
type Buffer struct {
	sink     Sink
	interval time.Duration

	mu      sync.Mutex
	pending []model.StatEvent

	// flushMu keeps concurrent flushes from reordering batches at the sink.
	flushMu sync.Mutex

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBuffer creates a buffer flushing to sink every interval.
func NewBuffer(sink Sink, interval time.Duration) *Buffer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Buffer{sink: sink, interval: interval}
}

// Record appends ev to the buffer.
func (b *Buffer) Record(ev model.StatEvent) {
	b.mu.Lock()
	b.pending = append(b.pending, ev)
	b.mu.Unlock()
}

// Len returns the number of unflushed events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush hands all buffered events to the sink. The buffer lock is released
// before the sink is called.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := b.sink.Append(ctx, batch); err != nil {
		zap.L().Error("stats: flush failed, dropping batch", zap.Int("events", len(batch)), zap.Error(err))
		return resilience.Wrap(resilience.KindPersistence, "stats: flush", err)
	}
	zap.L().Debug("stats: flushed", zap.Int("events", len(batch)))
	return nil
}

// Start launches the periodic flush loop. Calling Start on a running buffer
// is a no-op.
func (b *Buffer) Start(ctx context.Context) {
	b.loopMu.Lock()
	defer b.loopMu.Unlock()
	if b.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx, b.done)
}

func (b *Buffer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	log := zap.L().With(zap.String("component", "stats.buffer"))
	log.Info("starting stats flush loop", zap.Duration("interval", b.interval))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stats flush loop stopped")
			return
		case <-ticker.C:
			// A flush already handed to the sink finishes even if Close
			// cancels the loop meanwhile.
			_ = b.Flush(context.WithoutCancel(ctx))
		}
	}
}

// Close stops the loop, waits for it to exit, then flushes whatever is
// left. It is safe to call without Start and more than once.
func (b *Buffer) Close(ctx context.Context) error {
	b.loopMu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return b.Flush(ctx)
}
