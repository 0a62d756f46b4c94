package lifecycle

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/cabridge/cabridge/internal/chat"
	"github.com/cabridge/cabridge/internal/mux"
	"github.com/cabridge/cabridge/internal/poller"
	"github.com/cabridge/cabridge/internal/registry"
	"github.com/google/uuid"
)

// ErrInsufficientPermissions is the distinguished error spec §4.6's
// auto-registration path raises when the bot lacks the rights to create a
// forum topic — callers are expected to warn the general topic once and
// fall that session's notifications back there, rather than retry.
var ErrInsufficientPermissions = fmt.Errorf("insufficient chat permissions to create a topic")

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "not enough rights") ||
		strings.Contains(s, "chat_admin_required") ||
		strings.Contains(s, "administrator")
}

// Manager drives the full task lifecycle: spawn (both flavors),
// auto-registration, pause, resume, cleanup, and crash recovery. Grounded
// on original_source/session_worker.py + session_operator.py.
type Manager struct {
	Driver   mux.Driver
	Chat     chat.API
	Registry *registry.Registry
	Config   *registry.ConfigStore
	Git      GitExecutor
	Home     string
}

// New returns a Manager wired against real collaborators; tests construct
// Manager{} literals directly with fakes instead.
func New(driver mux.Driver, c chat.API, reg *registry.Registry, cfg *registry.ConfigStore, home string) *Manager {
	return &Manager{Driver: driver, Chat: c, Registry: reg, Config: cfg, Git: RealGitExecutor{}, Home: home}
}

// createTopicProtocol runs spec §4.6's crash-safe topic-creation protocol:
// write a pending marker, create the topic, send a welcome message,
// overwrite the marker with its completed form. A failure between steps 1
// and 3 leaves the pending marker in place for a later recovery walk.
func (m *Manager) createTopicProtocol(ctx context.Context, taskDir, taskName string, flavor registry.Flavor, repo string) (int, error) {
	if err := registry.WriteMarker(taskDir, &registry.Marker{
		PendingTopicName: taskName,
		PendingSince:     time.Now().UTC(),
	}); err != nil {
		return 0, fmt.Errorf("write pending marker: %w", err)
	}

	cfg := m.Config.Get()
	topicID, err := m.Chat.CreateForumTopic(ctx, cfg.GroupID, taskName)
	if err != nil {
		if isPermissionError(err) {
			return 0, fmt.Errorf("%w: %v", ErrInsufficientPermissions, err)
		}
		return 0, fmt.Errorf("create topic: %w", err)
	}

	if _, err := m.Chat.SendMessage(ctx, cfg.GroupID, topicID,
		fmt.Sprintf("Task started: `%s`", chat.EscapeMarkdown(taskName)), nil); err != nil {
		return 0, fmt.Errorf("send welcome message: %w", err)
	}

	if err := registry.WriteMarker(taskDir, &registry.Marker{
		Name:      taskName,
		Flavor:    flavor,
		TopicID:   topicID,
		CreatedAt: time.Now().UTC(),
		Repo:      repo,
	}); err != nil {
		return topicID, fmt.Errorf("write completed marker: %w", err)
	}
	return topicID, nil
}

// startPane either attaches to an existing pane already running in dir, or
// creates a new session there and sends the scripted first prompt.
func (m *Manager) startPane(ctx context.Context, sessionName, dir, description string) (string, error) {
	if panes, err := m.Driver.ListPanes(ctx, true, ""); err == nil {
		if p, ok := mux.FindPaneByCWD(panes, dir); ok {
			return p.ID, nil
		}
	}
	if m.Driver.HasSession(ctx, sessionName) {
		panes, err := m.Driver.ListPanes(ctx, false, sessionName)
		if err == nil && len(panes) > 0 {
			return panes[0].ID, nil
		}
	}
	pane, err := m.Driver.NewSession(ctx, sessionName, dir)
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	if !poller.SendToPane(ctx, m.Driver, pane, SpawnPrompt(description)) {
		return pane, fmt.Errorf("failed to inject spawn prompt into %s", pane)
	}
	return pane, nil
}

// SpawnSession spawns a session-flavor task rooted at an existing
// directory (no worktree involved).
func (m *Manager) SpawnSession(ctx context.Context, taskDir, taskName, description string) (registry.Task, error) {
	if m.Registry.Has(taskName) {
		return registry.Task{}, fmt.Errorf("task %q already registered", taskName)
	}

	topicID, err := m.createTopicProtocol(ctx, taskDir, taskName, registry.FlavorSession, "")
	if err != nil {
		return registry.Task{}, err
	}

	pane, err := m.startPane(ctx, SessionName(taskName), taskDir, description)
	if err != nil {
		return registry.Task{}, err
	}

	task := registry.Task{
		Name:    taskName,
		Flavor:  registry.FlavorSession,
		Path:    taskDir,
		TopicID: topicID,
		Pane:    pane,
		Status:  registry.StatusActive,
	}
	m.Registry.AddTask(task)
	_ = m.Registry.Save()
	return task, nil
}

// SpawnWorktree spawns a worktree-flavor task: creates the git worktree
// (running any setup hook), then runs the same topic-creation protocol and
// pane step as SpawnSession. A failure anywhere after worktree creation
// rolls the worktree back.
func (m *Manager) SpawnWorktree(ctx context.Context, repoDir, taskName, description string) (registry.Task, error) {
	if m.Registry.Has(taskName) {
		return registry.Task{}, fmt.Errorf("task %q already registered", taskName)
	}

	cfg := m.Config.Get()
	base := cfg.WorktreeBaseFor(repoDir)

	worktreePath, err := CreateWorktree(ctx, m.Git, repoDir, base, taskName)
	if err != nil {
		if worktreePath == "" {
			return registry.Task{}, fmt.Errorf("create worktree: %w", err)
		}
		// The worktree exists but its setup hook failed: log and carry on.
		log.Printf("setup hook for %s: %v", taskName, err)
	}

	topicID, err := m.createTopicProtocol(ctx, worktreePath, taskName, registry.FlavorWorktree, repoDir)
	if err != nil {
		_ = RemoveWorktree(ctx, m.Git, repoDir, base, taskName)
		return registry.Task{}, err
	}

	pane, err := m.startPane(ctx, SessionName(taskName), worktreePath, description)
	if err != nil {
		_ = RemoveWorktree(ctx, m.Git, repoDir, base, taskName)
		return registry.Task{}, err
	}

	task := registry.Task{
		Name:    taskName,
		Flavor:  registry.FlavorWorktree,
		Path:    worktreePath,
		TopicID: topicID,
		Pane:    pane,
		Repo:    repoDir,
		Status:  registry.StatusActive,
	}
	m.Registry.AddTask(task)
	_ = m.Registry.Save()
	return task, nil
}

// AutoRegister is called when the watcher discovers a pane whose cwd is
// outside the registry and carries no marker: it synthesizes a unique
// task name from the directory leaf, runs the topic-creation protocol,
// and inserts the task using the pane already running there.
func (m *Manager) AutoRegister(ctx context.Context, pane, cwd string) (registry.Task, error) {
	base := filepath.Base(cwd)
	taskName := base
	for m.Registry.Has(taskName) {
		taskName = fmt.Sprintf("%s-%s", base, uuid.New().String()[:8])
	}

	topicID, err := m.createTopicProtocol(ctx, cwd, taskName, registry.FlavorSession, "")
	if err != nil {
		return registry.Task{}, err
	}

	task := registry.Task{
		Name:    taskName,
		Flavor:  registry.FlavorSession,
		Path:    cwd,
		TopicID: topicID,
		Pane:    pane,
		Status:  registry.StatusActive,
	}
	m.Registry.AddTask(task)
	_ = m.Registry.Save()
	return task, nil
}

// Pause stops a task's tmux session, marks it paused in the registry, and
// drops its pane from the registry. The marker has no status field: it is
// rewritten with any pending fields cleared and does not record the pause.
func (m *Manager) Pause(ctx context.Context, taskName string) error {
	task, ok := m.Registry.GetTask(taskName)
	if !ok {
		return fmt.Errorf("no such task %q", taskName)
	}

	if err := m.Driver.KillSession(ctx, SessionName(taskName)); err != nil {
		return fmt.Errorf("kill session: %w", err)
	}

	marker, err := registry.ReadMarker(task.Path)
	if err != nil {
		return fmt.Errorf("read marker: %w", err)
	}
	if marker != nil {
		marker.PendingTopicName, marker.PendingSince = "", time.Time{} // defensive: a completed marker has neither set
		if err := registry.WriteMarker(task.Path, marker); err != nil {
			return fmt.Errorf("write marker: %w", err)
		}
	}

	task.Status = registry.StatusPaused
	task.Pane = ""
	m.Registry.AddTask(task)
	return m.Registry.Save()
}

// Resume restarts a paused (or unexpectedly dead) task's session. If the
// session already exists — another actor recreated it in a race — it's
// reused as-is and the agent is not relaunched. Otherwise a fresh session
// is created and `claude --resume` is attempted, falling back to a brand
// new conversation if the CLI reports nothing to resume.
func (m *Manager) Resume(ctx context.Context, taskName string) (string, error) {
	task, ok := m.Registry.GetTask(taskName)
	if !ok {
		return "", fmt.Errorf("no such task %q", taskName)
	}

	sessionName := SessionName(taskName)
	var pane string
	if m.Driver.HasSession(ctx, sessionName) {
		panes, err := m.Driver.ListPanes(ctx, false, sessionName)
		if err != nil || len(panes) == 0 {
			return "", fmt.Errorf("session %s exists but has no panes", sessionName)
		}
		pane = panes[0].ID
	} else {
		var err error
		pane, err = m.Driver.NewSession(ctx, sessionName, task.Path)
		if err != nil {
			return "", fmt.Errorf("new session: %w", err)
		}
		if !poller.SendToPane(ctx, m.Driver, pane, ResumeCommand) {
			return pane, fmt.Errorf("failed to inject resume command into %s", pane)
		}
		time.Sleep(500 * time.Millisecond)
		if out, err := m.Driver.CapturePane(ctx, pane, 0); err == nil && hasNoPriorSessionMarker(out) {
			if !poller.SendToPane(ctx, m.Driver, pane, ResumeFallbackPrompt(taskName)) {
				return pane, fmt.Errorf("failed to inject resume fallback prompt into %s", pane)
			}
		}
	}

	if task.TopicID != 0 {
		_ = updateTopicStatus(ctx, m.Chat, m.Config, task.TopicID, taskName, "active")
	}

	if marker, err := registry.ReadMarker(task.Path); err == nil && marker != nil {
		marker.Name = taskName
		_ = registry.WriteMarker(task.Path, marker)
	}

	task.Status = registry.StatusActive
	task.Pane = pane
	m.Registry.AddTask(task)
	_ = m.Registry.Save()
	return pane, nil
}

func hasNoPriorSessionMarker(capture string) bool {
	for _, marker := range NoPriorSessionMarkers {
		if strings.Contains(capture, marker) {
			return true
		}
	}
	return false
}

// statusPrefixes mirrors original_source/session_worker.py's
// STATUS_PREFIXES, used to decorate a topic's name with its task's
// current status.
var statusPrefixes = map[string]string{
	"active": "▶️",
	"paused": "⏸️",
	"done":   "✅",
}

func updateTopicStatus(ctx context.Context, c chat.API, cfg *registry.ConfigStore, topicID int, taskName, status string) error {
	if !cfg.Get().IsConfigured() {
		return nil
	}
	name := strings.TrimSpace(statusPrefixes[status] + " " + taskName)
	return c.EditForumTopic(ctx, cfg.Get().GroupID, topicID, name)
}

// StatusEmoji returns the status-prefix emoji for a task status, for
// `/status` lines and topic-name decoration alike.
func StatusEmoji(status registry.Status) string {
	return statusPrefixes[string(status)]
}

// Cleanup stops a task's session, closes or deletes its topic per the
// caller's choice, removes its on-disk traces (the worktree for
// worktree-flavor tasks, just the marker for session-flavor ones), and
// drops it from the registry.
func (m *Manager) Cleanup(ctx context.Context, taskName string, deleteTopic bool) error {
	task, ok := m.Registry.GetTask(taskName)
	if !ok {
		return fmt.Errorf("no such task %q", taskName)
	}

	_ = m.Driver.KillSession(ctx, SessionName(taskName))

	if task.TopicID != 0 {
		cfg := m.Config.Get()
		var err error
		if deleteTopic {
			err = m.Chat.DeleteForumTopic(ctx, cfg.GroupID, task.TopicID)
		} else {
			_ = updateTopicStatus(ctx, m.Chat, m.Config, task.TopicID, taskName, "done")
			err = m.Chat.CloseForumTopic(ctx, cfg.GroupID, task.TopicID)
		}
		if err != nil {
			return fmt.Errorf("close/delete topic: %w", err)
		}
	}

	switch task.Flavor {
	case registry.FlavorWorktree:
		cfg := m.Config.Get()
		base := cfg.WorktreeBaseFor(task.Repo)
		if err := RemoveWorktree(ctx, m.Git, task.Repo, base, taskName); err != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
	case registry.FlavorSession:
		if err := registry.RemoveMarker(task.Path); err != nil {
			return fmt.Errorf("remove marker: %w", err)
		}
	}

	m.Registry.RemoveTask(taskName)
	return m.Registry.Save()
}
