package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(path)
	s.Set(42, Entry{ChatID: 1, Pane: "ca-a:0.0", Type: EntryPermissionPrompt, NotifiedAt: time.Now()})

	require.NoError(t, s.Save())

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())

	e, ok := reloaded.Get(42)
	require.True(t, ok)
	assert.Equal(t, "ca-a:0.0", e.Pane)
}

func TestStore_SaveIsNoOpWhenNotDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(path)
	require.NoError(t, s.Save(), "saving an empty, unmodified store must not error or create a file")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "saving an empty, unmodified store must not create a file")
}

func TestStore_DeleteAndMarkHandled(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"))
	s.Set(1, Entry{Pane: "ca-a:0.0"})

	s.MarkHandled(1)
	e, ok := s.Get(1)
	require.True(t, ok)
	assert.True(t, e.Handled)

	s.Delete(1)
	_, ok = s.Get(1)
	assert.False(t, ok)
}

func TestStore_ForPaneFiltersHandled(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"))
	s.Set(1, Entry{Pane: "ca-a:0.0"})
	s.Set(2, Entry{Pane: "ca-a:0.0", Handled: true})
	s.Set(3, Entry{Pane: "ca-b:0.0"})

	got := s.ForPane("ca-a:0.0")
	assert.Len(t, got, 1)
	_, ok := got[1]
	assert.True(t, ok)
}
