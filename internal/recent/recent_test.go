package recent

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, cap int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "recent.db"), cap)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTouchAndList(t *testing.T) {
	s := openStore(t, 10)

	require.NoError(t, s.Touch("/tmp/a.bq"))
	require.NoError(t, s.Touch("/tmp/b.bq"))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	paths := []string{entries[0].Path, entries[1].Path}
	assert.Contains(t, paths, "/tmp/a.bq")
	assert.Contains(t, paths, "/tmp/b.bq")
}

func TestTouchIsIdempotentPerPath(t *testing.T) {
	s := openStore(t, 10)

	require.NoError(t, s.Touch("/tmp/a.bq"))
	require.NoError(t, s.Touch("/tmp/a.bq"))

	entries, err := s.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCapEvictsOldest(t *testing.T) {
	s := openStore(t, 3)

	for _, p := range []string{"/tmp/1.bq", "/tmp/2.bq", "/tmp/3.bq", "/tmp/4.bq"} {
		require.NoError(t, s.Touch(p))
	}

	entries, err := s.List()
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	for _, e := range entries {
		assert.NotEqual(t, "/tmp/1.bq", e.Path, "oldest entry should have been evicted")
	}
}

func TestRemove(t *testing.T) {
	s := openStore(t, 10)

	require.NoError(t, s.Touch("/tmp/a.bq"))
	require.NoError(t, s.Remove("/tmp/a.bq"))

	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Removing an absent path is not an error.
	require.NoError(t, s.Remove("/tmp/never-there.bq"))
}

func TestOpenRejectsBadCap(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "recent.db"), 0)
	assert.Error(t, err)
}
