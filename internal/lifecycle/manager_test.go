package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cabridge/cabridge/internal/chat"
	"github.com/cabridge/cabridge/internal/mux"
	"github.com/cabridge/cabridge/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *chat.FakeClient, *mux.FakeDriver, *fakeGit) {
	t.Helper()
	fc := chat.NewFakeClient()
	driver := mux.NewFakeDriver()
	reg := registry.New(filepath.Join(t.TempDir(), "registry.json"))
	cfgStore := registry.NewConfigStore(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfgStore.Set(registry.Config{GroupID: 100, GeneralTopicID: 1}))
	git := newFakeGit()

	m := &Manager{Driver: driver, Chat: fc, Registry: reg, Config: cfgStore, Git: git, Home: t.TempDir()}
	return m, fc, driver, git
}

func TestSpawnSession_RunsTopicProtocolThenStartsPane(t *testing.T) {
	m, fc, driver, _ := newTestManager(t)
	taskDir := t.TempDir()

	task, err := m.SpawnSession(context.Background(), taskDir, "fix-bug", "fix the login bug")
	require.NoError(t, err)

	assert.Equal(t, registry.FlavorSession, task.Flavor)
	assert.Equal(t, registry.StatusActive, task.Status)
	assert.NotEmpty(t, task.Pane)
	assert.NotEmpty(t, fc.Topics[task.TopicID])

	marker, err := registry.ReadMarker(taskDir)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.True(t, marker.IsComplete())
	assert.Equal(t, "fix-bug", marker.Name)

	sent := driver.Sent(task.Pane)
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-2], "restate your understanding")

	registered, ok := m.Registry.GetTask("fix-bug")
	require.True(t, ok)
	assert.Equal(t, task.Pane, registered.Pane)
}

func TestSpawnSession_RejectsDuplicateName(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	taskDir := t.TempDir()
	_, err := m.SpawnSession(context.Background(), taskDir, "dup", "desc")
	require.NoError(t, err)

	_, err = m.SpawnSession(context.Background(), taskDir, "dup", "desc")
	assert.Error(t, err)
}

func TestSpawnWorktree_CreatesWorktreeThenTopicThenPane(t *testing.T) {
	m, fc, _, git := newTestManager(t)
	repoDir := t.TempDir()

	task, err := m.SpawnWorktree(context.Background(), repoDir, "add-feature", "add the feature")
	require.NoError(t, err)

	assert.Equal(t, registry.FlavorWorktree, task.Flavor)
	assert.Equal(t, repoDir, task.Repo)
	require.Len(t, git.added, 1)
	assert.NotEmpty(t, fc.Topics[task.TopicID])

	marker, err := registry.ReadMarker(task.Path)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, registry.FlavorWorktree, marker.Flavor)
	assert.Equal(t, repoDir, marker.Repo)
}

func TestSpawnWorktree_RunsSetupHookWhenPresent(t *testing.T) {
	m, _, _, git := newTestManager(t)
	repoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, SetupHookName), []byte("#!/bin/bash\ntrue\n"), 0o755))

	_, err := m.SpawnWorktree(context.Background(), repoDir, "with-hook", "desc")
	require.NoError(t, err)
	assert.Len(t, git.hookRuns, 1)
}

func TestSpawnWorktree_RollsBackWorktreeOnTopicFailure(t *testing.T) {
	m, _, _, git := newTestManager(t)
	repoDir := t.TempDir()

	// Force a topic-creation failure by pointing at a chat client that
	// always errors.
	m.Chat = &failingChatClient{}

	_, err := m.SpawnWorktree(context.Background(), repoDir, "rollback-me", "desc")
	require.Error(t, err)
	require.Len(t, git.added, 1)
	require.Len(t, git.removed, 1, "a failed topic-creation step must roll the worktree back")
}

func TestAutoRegister_SynthesizesUniqueNameOnCollision(t *testing.T) {
	m, _, driver, _ := newTestManager(t)
	m.Registry.AddTask(registry.Task{Name: "project", Path: "/other", Status: registry.StatusActive})

	pane, err := driver.NewSession(context.Background(), "ca-stray", "/home/alice/project")
	require.NoError(t, err)

	task, err := m.AutoRegister(context.Background(), pane, "/home/alice/project")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(task.Name, "project-"))
	assert.NotEqual(t, "project", task.Name)
	assert.Equal(t, pane, task.Pane)
}

func TestAutoRegister_ReturnsDistinguishedErrorOnPermissionFailure(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	m.Chat = &failingPermissionChatClient{}

	_, err := m.AutoRegister(context.Background(), "ca-x:0.0", "/home/alice/project")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientPermissions)
}

func TestPause_StopsSessionAndDropsPaneKeepsMarkerName(t *testing.T) {
	m, _, driver, _ := newTestManager(t)
	taskDir := t.TempDir()
	_, err := m.SpawnSession(context.Background(), taskDir, "pausable", "desc")
	require.NoError(t, err)

	require.NoError(t, m.Pause(context.Background(), "pausable"))

	assert.False(t, driver.HasSession(context.Background(), SessionName("pausable")))
	updated, ok := m.Registry.GetTask("pausable")
	require.True(t, ok)
	assert.Equal(t, registry.StatusPaused, updated.Status)
	assert.Empty(t, updated.Pane)

	marker, err := registry.ReadMarker(taskDir)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, "pausable", marker.Name)
}

func TestResume_RecreatesSessionAndSendsResumeCommand(t *testing.T) {
	m, _, driver, _ := newTestManager(t)
	taskDir := t.TempDir()
	_, err := m.SpawnSession(context.Background(), taskDir, "resumable", "desc")
	require.NoError(t, err)
	require.NoError(t, m.Pause(context.Background(), "resumable"))

	pane, err := m.Resume(context.Background(), "resumable")
	require.NoError(t, err)
	assert.NotEmpty(t, pane)

	sent := driver.Sent(pane)
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-2], "--resume")

	updated, ok := m.Registry.GetTask("resumable")
	require.True(t, ok)
	assert.Equal(t, registry.StatusActive, updated.Status)
	assert.Equal(t, pane, updated.Pane)
}

func TestHasNoPriorSessionMarker_DetectsKnownClaudeCLIMessages(t *testing.T) {
	assert.True(t, hasNoPriorSessionMarker("No conversation found to resume"))
	assert.False(t, hasNoPriorSessionMarker("Resuming previous session..."))
}

func TestResume_ReusesExistingSessionWithoutRelaunching(t *testing.T) {
	m, _, driver, _ := newTestManager(t)
	taskDir := t.TempDir()
	_, err := m.SpawnSession(context.Background(), taskDir, "racey", "desc")
	require.NoError(t, err)
	require.NoError(t, m.Pause(context.Background(), "racey"))

	// Simulate another actor recreating the session before Resume runs.
	racePane, err := driver.NewSession(context.Background(), SessionName("racey"), taskDir)
	require.NoError(t, err)

	pane, err := m.Resume(context.Background(), "racey")
	require.NoError(t, err)
	assert.Equal(t, racePane, pane)
	assert.Empty(t, driver.Sent(pane), "an already-existing session must not be sent a relaunch command")
}

func TestCleanup_SessionFlavorRemovesMarkerAndClosesTopic(t *testing.T) {
	m, fc, driver, _ := newTestManager(t)
	taskDir := t.TempDir()
	task, err := m.SpawnSession(context.Background(), taskDir, "done-task", "desc")
	require.NoError(t, err)

	require.NoError(t, m.Cleanup(context.Background(), "done-task", false))

	assert.False(t, driver.HasSession(context.Background(), SessionName("done-task")))
	assert.Contains(t, fc.Topics[task.TopicID], "closed")
	_, ok := m.Registry.GetTask("done-task")
	assert.False(t, ok)

	marker, err := registry.ReadMarker(taskDir)
	require.NoError(t, err)
	assert.Nil(t, marker)
}

func TestCleanup_WorktreeFlavorDeletesWorktreeAndDeletesTopicOnRequest(t *testing.T) {
	m, fc, _, git := newTestManager(t)
	repoDir := t.TempDir()
	task, err := m.SpawnWorktree(context.Background(), repoDir, "finished-wt", "desc")
	require.NoError(t, err)

	require.NoError(t, m.Cleanup(context.Background(), "finished-wt", true))

	require.Len(t, git.removed, 1)
	_, stillOpen := fc.Topics[task.TopicID]
	assert.False(t, stillOpen)
}

// failingChatClient errors on every call that matters to SpawnWorktree's
// rollback path.
type failingChatClient struct{ chat.FakeClient }

func (failingChatClient) CreateForumTopic(context.Context, int64, string) (int, error) {
	return 0, fakeErr("boom")
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

// failingPermissionChatClient simulates Telegram's "not enough rights"
// error surfaced when the bot isn't an admin in the group.
type failingPermissionChatClient struct{ chat.FakeClient }

func (failingPermissionChatClient) CreateForumTopic(context.Context, int64, string) (int, error) {
	return 0, fakeErr("Bad Request: not enough rights to manage topics")
}
