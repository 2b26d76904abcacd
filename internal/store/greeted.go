package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lookup-bot/internal/resilience"
)

// GreetedSet records which chats have already received the greeting. It is
// safe for concurrent use and persisted to a JSON array of chat IDs.
type GreetedSet struct {
	mu   sync.Mutex
	path string
	ids  map[int64]struct{}
}

// LoadGreeted reads the set from path. A missing file yields an empty set.
// A corrupt file is logged and replaced on the next insertion.
func LoadGreeted(path string) (*GreetedSet, error) {
	g := &GreetedSet{path: path, ids: make(map[int64]struct{})}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return g, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: read greeted %s", path)
	}

	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		zap.L().Warn("store: greeted file is corrupt, starting empty", zap.String("path", path), zap.Error(err))
		return g, nil
	}
	for _, id := range ids {
		g.ids[id] = struct{}{}
	}
	return g, nil
}

// Add inserts chatID and reports whether it was new. The set is persisted
// after every insertion; a write failure is returned but the insertion is
// kept, so the chat is not greeted twice in this process.
func (g *GreetedSet) Add(chatID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.ids[chatID]; ok {
		return false, nil
	}
	g.ids[chatID] = struct{}{}

	if err := g.persist(); err != nil {
		return true, resilience.Wrap(resilience.KindPersistence, "store: save greeted", err)
	}
	return true, nil
}

// Contains reports whether chatID has been greeted.
func (g *GreetedSet) Contains(chatID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.ids[chatID]
	return ok
}

// Len returns the number of greeted chats.
func (g *GreetedSet) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}

// persist writes the set to a temp file and renames it over path. The
// caller holds g.mu.
func (g *GreetedSet) persist() error {
	ids := make([]int64, 0, len(g.ids))
	for id := range g.ids {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	data, err := json.Marshal(ids)
	if err != nil {
		return eris.Wrap(err, "marshal ids")
	}

	dir := filepath.Dir(g.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".greeted-*.tmp")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), g.path); err != nil {
		return eris.Wrap(err, "rename temp file")
	}
	return nil
}
