package pointer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "kickoff")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "kickoff", "sess-1"))
	require.NoError(t, s.Set(ctx, LatestKey, "sess-1"))

	id, ok, err := s.Get(ctx, "kickoff")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", id)

	require.NoError(t, s.Set(ctx, "kickoff", "sess-2"))
	id, _, _ = s.Get(ctx, "kickoff")
	assert.Equal(t, "sess-2", id)

	require.NoError(t, s.Clear(ctx, "kickoff"))
	require.NoError(t, s.Clear(ctx, "kickoff"))
	_, ok, _ = s.Get(ctx, "kickoff")
	assert.False(t, ok)

	id, ok, _ = s.Get(ctx, LatestKey)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", id)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pointers.json")
	exerciseStore(t, NewFileStore(path))
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pointers.json")

	require.NoError(t, NewFileStore(path).Set(ctx, "kickoff", "sess-9"))

	id, ok, err := NewFileStore(path).Get(ctx, "kickoff")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sess-9", id)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pointers.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, _, err := NewFileStore(path).Get(context.Background(), "kickoff")
	assert.Error(t, err)
}
