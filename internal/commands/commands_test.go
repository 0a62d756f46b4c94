package commands

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cabridge/cabridge/internal/chat"
	"github.com/cabridge/cabridge/internal/mux"
	"github.com/cabridge/cabridge/internal/notify"
	"github.com/cabridge/cabridge/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, *chat.FakeClient, *mux.FakeDriver) {
	t.Helper()
	fc := chat.NewFakeClient()
	driver := mux.NewFakeDriver()
	reg := registry.New(filepath.Join(t.TempDir(), "registry.json"))
	cfgStore := registry.NewConfigStore(filepath.Join(t.TempDir(), "config.json"))
	state := notify.NewStore(filepath.Join(t.TempDir(), "state.json"))
	home := t.TempDir()

	h := &Handler{
		Chat:     fc,
		Driver:   driver,
		Registry: reg,
		Config:   cfgStore,
		State:    state,
		Home:     home,
	}
	return h, fc, driver
}

func TestHandleCommand_UnrecognizedReturnsFalse(t *testing.T) {
	h, _, _ := newTestHandler(t)
	handled := h.HandleCommand(context.Background(), chat.Message{Text: "just chatting"})
	assert.False(t, handled)
}

func TestSetup_InitializesConfigForGroupChat(t *testing.T) {
	h, fc, _ := newTestHandler(t)
	fc.Forum = true

	handled := h.HandleCommand(context.Background(), chat.Message{ChatID: 55, IsGroup: true, Text: "/setup"})
	require.True(t, handled)

	cfg := h.Config.Get()
	assert.Equal(t, int64(55), cfg.GroupID)
	require.Len(t, fc.Sent, 1)
	assert.Contains(t, fc.Sent[0].Text, "initialized")
}

func TestSetup_RejectsNonGroupChat(t *testing.T) {
	h, fc, _ := newTestHandler(t)
	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, IsPrivate: true, Text: "/setup"})
	assert.False(t, h.Config.Get().IsConfigured())
	require.Len(t, fc.Sent, 1)
	assert.Contains(t, fc.Sent[0].Text, "group chats")
}

func TestSetup_IsIdempotentForSameGroup(t *testing.T) {
	h, fc, _ := newTestHandler(t)
	fc.Forum = true
	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, IsGroup: true, Text: "/setup"})
	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, IsGroup: true, Text: "/setup"})

	require.Len(t, fc.Sent, 2)
	assert.Contains(t, fc.Sent[1].Text, "Already set up")
}

func TestSetup_ErrorsForDifferentGroup(t *testing.T) {
	h, fc, _ := newTestHandler(t)
	fc.Forum = true
	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, IsGroup: true, Text: "/setup"})
	h.HandleCommand(context.Background(), chat.Message{ChatID: 99, IsGroup: true, Text: "/setup"})

	require.Len(t, fc.Sent, 2)
	assert.Contains(t, fc.Sent[1].Text, "another group")
}

func TestReset_ClearsConfigurationForConfiguredGroup(t *testing.T) {
	h, _, _ := newTestHandler(t)
	require.NoError(t, h.Config.Set(registry.Config{GroupID: 55, GeneralTopicID: 1}))

	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, Text: "/reset"})
	assert.False(t, h.Config.Get().IsConfigured())
}

func TestReset_RefusesWrongGroup(t *testing.T) {
	h, fc, _ := newTestHandler(t)
	require.NoError(t, h.Config.Set(registry.Config{GroupID: 55, GeneralTopicID: 1}))

	h.HandleCommand(context.Background(), chat.Message{ChatID: 99, Text: "/reset"})
	assert.True(t, h.Config.Get().IsConfigured())
	require.Len(t, fc.Sent, 1)
	assert.Contains(t, fc.Sent[0].Text, "different group")
}

func TestStatus_ListsTasksWithEmoji(t *testing.T) {
	h, fc, _ := newTestHandler(t)
	h.Registry.AddTask(registry.Task{Name: "alpha", Status: registry.StatusActive, Flavor: registry.FlavorSession})
	h.Registry.AddTask(registry.Task{Name: "beta", Status: registry.StatusPaused, Flavor: registry.FlavorWorktree})

	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, Text: "/status"})
	require.Len(t, fc.Sent, 1)
	assert.Contains(t, fc.Sent[0].Text, "▶️ alpha")
	assert.Contains(t, fc.Sent[0].Text, "⏸️ beta")
}

func TestTodo_InjectsIntoMostRecentlyNotifiedPane(t *testing.T) {
	h, fc, driver := newTestHandler(t)
	oldPane, _ := driver.NewSession(context.Background(), "ca-old", "/repo")
	newPane, _ := driver.NewSession(context.Background(), "ca-new", "/repo")
	h.State.Set(1, notify.Entry{Pane: oldPane, NotifiedAt: timeAgo(10)})
	h.State.Set(2, notify.Entry{Pane: newPane, NotifiedAt: timeAgo(1)})

	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, Text: "/todo write more tests"})

	assert.Equal(t, []string{"key:C-u", "lit:[TODO] write more tests", "key:Enter"}, driver.Sent(newPane))
	assert.Empty(t, driver.Sent(oldPane))
	assert.Empty(t, fc.Sent)
}

func TestTodo_RejectsEmptyArgument(t *testing.T) {
	h, fc, _ := newTestHandler(t)
	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, Text: "/todo"})
	require.Len(t, fc.Sent, 1)
	assert.Contains(t, fc.Sent[0].Text, "Usage")
}

func TestDebug_InjectsMetadataDumpAndReacts(t *testing.T) {
	h, fc, driver := newTestHandler(t)
	pane, _ := driver.NewSession(context.Background(), "ca-task", "/repo/proj")
	h.State.Set(7, notify.Entry{Pane: pane, Type: notify.EntryPermissionPrompt, ToolName: "Bash", ToolUseID: "tool-1", CWD: "/repo/proj"})

	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, MessageID: 8, ReplyToID: 7, Text: "/debug"})

	sent := driver.Sent(pane)
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-2], "Tool: Bash")
	assert.NotEmpty(t, fc.Reactions[8])
	assert.Empty(t, fc.Sent)
}

func TestDebug_RequiresReply(t *testing.T) {
	h, fc, _ := newTestHandler(t)
	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, Text: "/debug"})
	require.Len(t, fc.Sent, 1)
	assert.Contains(t, fc.Sent[0].Text, "Reply to a notification")
}

func TestSpawn_ForwardsRichPromptToOperatorPane(t *testing.T) {
	h, fc, driver := newTestHandler(t)
	require.NoError(t, h.Config.Set(registry.Config{GroupID: 55, OperatorPane: "ca-op:0.0"}))
	driver.NewSession(context.Background(), "ca-op", "/repo")

	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, MessageID: 3, Text: "/spawn build the export feature"})

	sent := driver.Sent("ca-op:0.0")
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-2], "build the export feature")
	assert.NotEmpty(t, fc.Reactions)
}

func TestCleanup_InfersTaskNameFromCurrentTopic(t *testing.T) {
	h, _, driver := newTestHandler(t)
	require.NoError(t, h.Config.Set(registry.Config{GroupID: 55, OperatorPane: "ca-op:0.0"}))
	driver.NewSession(context.Background(), "ca-op", "/repo")
	h.Registry.AddTask(registry.Task{Name: "done-task", TopicID: 42, Status: registry.StatusActive})

	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, ThreadID: 42, Text: "/cleanup"})

	sent := driver.Sent("ca-op:0.0")
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-2], "done-task")
}

func TestShow_CapturesPaneForTaskTopic(t *testing.T) {
	h, fc, driver := newTestHandler(t)
	pane, _ := driver.NewSession(context.Background(), "ca-task", "/repo")
	h.Registry.AddTask(registry.Task{Name: "task", Pane: pane, TopicID: 42, Status: registry.StatusActive})

	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, ThreadID: 42, Text: "/show"})
	require.Len(t, fc.Sent, 1)
	assert.Contains(t, fc.Sent[0].Text, "```")
}

func TestRecover_ReportsCounts(t *testing.T) {
	h, fc, _ := newTestHandler(t)
	h.HandleCommand(context.Background(), chat.Message{ChatID: 55, Text: "/recover"})
	require.Len(t, fc.Sent, 1)
	assert.Contains(t, fc.Sent[0].Text, "Recovery complete")
}

func timeAgo(seconds int) (t time.Time) {
	return referenceNow.Add(-time.Duration(seconds) * time.Second)
}

var referenceNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
