package store

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lookup-bot/internal/model"
)

// FileSink appends events to a newline-delimited JSON log.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink returns a sink writing to path. The file is created on the
// first append.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Append writes one JSON line per event.
func (s *FileSink) Append(_ context.Context, events []model.StatEvent) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "file: create dir %s", dir)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "file: open %s", s.path)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			f.Close() //nolint:errcheck
			return eris.Wrap(err, "file: encode stat")
		}
	}
	if err := w.Flush(); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrap(err, "file: flush stats")
	}
	return eris.Wrap(f.Close(), "file: close stats")
}

// Close is a no-op; the file is closed after every append.
func (s *FileSink) Close() error { return nil }
