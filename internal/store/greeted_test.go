package store

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lookup-bot/internal/resilience"
)

func TestGreetedSet_AddIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greeted.json")
	g, err := LoadGreeted(path)
	require.NoError(t, err)
	assert.Equal(t, 0, g.Len())

	added, err := g.Add(42)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = g.Add(42)
	require.NoError(t, err)
	assert.False(t, added)

	added, err = g.Add(7)
	require.NoError(t, err)
	assert.True(t, added)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[7, 42]`, string(data))
}

func TestGreetedSet_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greeted.json")
	g, err := LoadGreeted(path)
	require.NoError(t, err)
	_, err = g.Add(-100123)
	require.NoError(t, err)

	reloaded, err := LoadGreeted(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Contains(-100123))

	added, err := reloaded.Add(-100123)
	require.NoError(t, err)
	assert.False(t, added)
}

func TestGreetedSet_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greeted.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	g, err := LoadGreeted(path)
	require.NoError(t, err)
	assert.Equal(t, 0, g.Len())

	added, err := g.Add(1)
	require.NoError(t, err)
	assert.True(t, added)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[1]`, string(data))
}

func TestGreetedSet_PersistFailureKeepsInsertion(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	g, err := LoadGreeted(filepath.Join(t.TempDir(), "greeted.json"))
	require.NoError(t, err)
	g.path = filepath.Join(blocker, "greeted.json")

	added, err := g.Add(5)
	assert.True(t, added)
	require.Error(t, err)
	assert.Equal(t, resilience.KindPersistence, resilience.KindOf(err))
	assert.True(t, g.Contains(5))

	added, err = g.Add(5)
	assert.False(t, added)
	assert.NoError(t, err)
}

func TestGreetedSet_ConcurrentAdd(t *testing.T) {
	g, err := LoadGreeted(filepath.Join(t.TempDir(), "greeted.json"))
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := g.Add(99)
			assert.NoError(t, err)
			if added {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, g.Len())
}
