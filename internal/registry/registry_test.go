package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddGetOverwrite(t *testing.T) {
	reg := New(filepath.Join(t.TempDir(), "registry.json"))

	reg.AddTask(Task{Name: "fix-typo", Flavor: FlavorWorktree, Path: "/repo/trees/fix-typo", TopicID: 5, Status: StatusActive})
	task, ok := reg.GetTask("fix-typo")
	require.True(t, ok)
	assert.Equal(t, 5, task.TopicID)

	reg.AddTask(Task{Name: "fix-typo", Flavor: FlavorWorktree, Path: "/repo/trees/fix-typo", TopicID: 9, Status: StatusActive})
	task, ok = reg.GetTask("fix-typo")
	require.True(t, ok)
	assert.Equal(t, 9, task.TopicID, "re-adding must overwrite, not merge")

	byTopic, ok := reg.GetByTopic(9)
	require.True(t, ok)
	assert.Equal(t, "fix-typo", byTopic.Name)

	_, ok = reg.GetByTopic(5)
	assert.False(t, ok, "stale topic index entry must be gone after overwrite")
}

func TestRegistry_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	reg := New(path)
	reg.AddTask(Task{Name: "a", Flavor: FlavorSession, Path: "/home/a", TopicID: 1, Status: StatusActive})
	reg.AddTask(Task{Name: "b", Flavor: FlavorWorktree, Path: "/repo/trees/b", TopicID: 2, Repo: "/repo", Status: StatusPaused})

	require.NoError(t, reg.Save())

	reloaded := New(path)
	require.NoError(t, reloaded.Load())

	a, ok := reloaded.GetTask("a")
	require.True(t, ok)
	assert.Equal(t, Flavor(FlavorSession), a.Flavor)

	b, ok := reloaded.GetByPath("/repo/trees/b")
	require.True(t, ok)
	assert.Equal(t, "b", b.Name)
	assert.Equal(t, StatusPaused, b.Status)
}

func TestRegistry_RemoveTaskClearsIndices(t *testing.T) {
	reg := New(filepath.Join(t.TempDir(), "registry.json"))
	reg.AddTask(Task{Name: "x", Path: "/p/x", TopicID: 3, Pane: "ca-x:0.0", Status: StatusActive})

	reg.RemoveTask("x")
	_, ok := reg.GetTask("x")
	assert.False(t, ok)
	_, ok = reg.GetByTopic(3)
	assert.False(t, ok)
	_, ok = reg.GetByPane("ca-x:0.0")
	assert.False(t, ok)
}

func TestMarker_ReadMissingIsNilNotError(t *testing.T) {
	m, err := ReadMarker(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMarker_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Marker{Name: "fix-typo", Flavor: FlavorWorktree, TopicID: 7}
	require.NoError(t, WriteMarker(dir, m))

	got, err := ReadMarker(dir)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "fix-typo", got.Name)
	assert.True(t, got.IsComplete())
	assert.False(t, got.IsPending())
}

func TestMarker_CorruptSurfacesError(t *testing.T) {
	dir := t.TempDir()
	markerPath := MarkerPath(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(markerPath), 0o755))
	require.NoError(t, os.WriteFile(markerPath, []byte("not json"), 0o644))

	_, err := ReadMarker(dir)
	assert.Error(t, err)
}
