package upload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestNewStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	store, err := NewStore(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, dir, store.Dir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestAllowed(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		filename string
		allowed  bool
	}{
		{"trace.csv", true},
		{"trace.CSV", true},
		{"messages.json", true},
		{"dump.txt", true},
		{"vehicle.log", true},
		{"capture.pcap", true},
		{"payload.exe", false},
		{"script.sh", false},
		{"noextension", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.allowed, store.Allowed(tt.filename))
		})
	}
}

func TestSaveAndPath(t *testing.T) {
	store := newTestStore(t)

	stored, err := store.Save("trace.csv", strings.NewReader("psn,x,y\n1,2,3\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(stored, "_trace.csv"))
	// Timestamp prefix: 20060102_150405_
	assert.Regexp(t, `^\d{8}_\d{6}_trace\.csv$`, stored)

	path, err := store.Path(stored)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "psn,x,y\n1,2,3\n", string(content))
}

func TestSaveSanitizesFilename(t *testing.T) {
	store := newTestStore(t)

	stored, err := store.Save("../../etc/passwd my file!.csv", strings.NewReader("x"))
	require.NoError(t, err)
	assert.NotContains(t, stored, "/")
	assert.NotContains(t, stored, "..")
	assert.True(t, strings.HasSuffix(stored, ".csv"))
}

func TestSaveRejectsEmptyName(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("....", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestPathRejectsTraversal(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"../outside.csv", "a/b.csv", "", "."} {
		_, err := store.Path(name)
		assert.Error(t, err, "name=%q", name)
		assert.NotErrorIs(t, err, ErrNotFound)
	}
}

func TestPathMissingFile(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Path("20260101_000000_gone.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)

	stored, err := store.Save("trace.csv", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, store.Remove(stored))

	_, err = store.Path(stored)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Remove(stored), ErrNotFound)
}

func TestCleanupOlderThan(t *testing.T) {
	store := newTestStore(t)

	stale, err := store.Save("old.csv", strings.NewReader("x"))
	require.NoError(t, err)
	fresh, err := store.Save("new.csv", strings.NewReader("y"))
	require.NoError(t, err)

	// Age the stale file past the cutoff
	stalePath := filepath.Join(store.Dir(), stale)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stalePath, old, old))

	removed, err := store.CleanupOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Path(stale)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Path(fresh)
	assert.NoError(t, err)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"trace.csv", "trace.csv"},
		{"my file.csv", "my_file.csv"},
		{"../../etc/passwd", "passwd"},
		{`..\..\windows\system.csv`, "system.csv"},
		{"weird$$name##.json", "weird_name_.json"},
		{"....", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitize(tt.in))
		})
	}
}
