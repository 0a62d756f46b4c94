// Package commands implements the bot's "/"-prefixed chat commands,
// giving them first refusal on any message before the ordinary pane-
// routing rules in internal/poller apply. Grounded on
// original_source/bot_commands.py, extended to the full command set per
// SPEC_FULL.md §6a.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cabridge/cabridge/internal/chat"
	"github.com/cabridge/cabridge/internal/lifecycle"
	"github.com/cabridge/cabridge/internal/mux"
	"github.com/cabridge/cabridge/internal/notify"
	"github.com/cabridge/cabridge/internal/poller"
	"github.com/cabridge/cabridge/internal/registry"
	"github.com/cabridge/cabridge/internal/watch"
)

// Handler implements poller.CommandHandler. Spawn/pause/cleanup are
// intentionally not wired to internal/lifecycle here: per spec §8
// scenario 5, /spawn and /cleanup only forward a natural-language request
// to the operator agent, which is the one that actually decides on and
// executes a lifecycle operation — mirroring how the operator pane, not
// the chat layer, drove session_worker.py in the original.
type Handler struct {
	Chat     chat.API
	Driver   mux.Driver
	Registry *registry.Registry
	Config   *registry.ConfigStore
	State    *notify.Store
	Home     string
}

var _ poller.CommandHandler = (*Handler)(nil)

// HandleCommand dispatches msg.Text's leading "/word" to the matching
// handler. Returns false for anything it doesn't recognize, letting the
// router fall through to ordinary pane routing.
func (h *Handler) HandleCommand(ctx context.Context, msg chat.Message) bool {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return false
	}
	cmd := strings.ToLower(fields[0])
	arg := strings.TrimSpace(strings.TrimPrefix(msg.Text, fields[0]))

	switch cmd {
	case "/setup":
		h.handleSetup(ctx, msg)
	case "/reset":
		h.handleReset(ctx, msg)
	case "/help":
		h.handleHelp(ctx, msg)
	case "/status":
		h.handleStatus(ctx, msg)
	case "/todo":
		h.handleTodo(ctx, msg, arg)
	case "/debug":
		h.handleDebug(ctx, msg, arg)
	case "/spawn":
		h.handleSpawn(ctx, msg, arg)
	case "/cleanup":
		h.handleCleanup(ctx, msg, arg)
	case "/tmux":
		h.handleTmux(ctx, msg)
	case "/show":
		h.handleShow(ctx, msg)
	case "/recover", "/rebuild-registry":
		h.handleRecover(ctx, msg)
	default:
		return false
	}
	return true
}

func (h *Handler) reply(ctx context.Context, msg chat.Message, text string) {
	for _, part := range chat.SplitMessage(text) {
		_, _ = h.Chat.SendMessage(ctx, msg.ChatID, msg.ThreadID, part, nil)
	}
}

func (h *Handler) react(ctx context.Context, msg chat.Message) {
	_ = h.Chat.SetMessageReaction(ctx, msg.ChatID, msg.MessageID, "👍")
}

// handleSetup mirrors bot_commands.py's _handle_setup: the chat must be a
// group, the group must support forum topics, and a second /setup for the
// same group is a no-op rather than an error.
func (h *Handler) handleSetup(ctx context.Context, msg chat.Message) {
	if !msg.IsGroup {
		h.reply(ctx, msg, "This command only works in group chats.")
		return
	}

	cfg := h.Config.Get()
	if cfg.IsConfigured() {
		if cfg.GroupID != msg.ChatID {
			h.reply(ctx, msg, fmt.Sprintf(
				"Already configured for another group (ID: %d). Run /reset in that group first.", cfg.GroupID))
			return
		}
		h.reply(ctx, msg, "Already set up in this group.")
		return
	}

	enabled, err := h.Chat.IsForumEnabled(ctx, msg.ChatID)
	if err != nil || !enabled {
		h.reply(ctx, msg, "This group needs to be a Forum (supergroup with topics enabled).\n\n"+
			"To enable:\n1. Open group settings\n2. Go to 'Topics'\n3. Enable topics\n\nThen run /setup again.")
		return
	}

	if _, err := h.Config.Mutate(func(c *registry.Config) {
		c.GroupID = msg.ChatID
		c.GeneralTopicID = 1
	}); err != nil {
		h.reply(ctx, msg, "Setup failed: could not persist configuration.")
		return
	}

	h.reply(ctx, msg, "Bridge initialized!\n\n"+
		"This group is now the control center. Send messages here to interact with the operator.\n\n"+
		"Use /help to see available commands.")
}

func (h *Handler) handleReset(ctx context.Context, msg chat.Message) {
	cfg := h.Config.Get()
	if !cfg.IsConfigured() {
		h.reply(ctx, msg, "Not configured.")
		return
	}
	if cfg.GroupID != msg.ChatID {
		h.reply(ctx, msg, "Configured for a different group. Run /reset in that group.")
		return
	}
	if err := h.Config.Clear(); err != nil {
		h.reply(ctx, msg, "Reset failed: could not persist configuration.")
		return
	}
	h.reply(ctx, msg, "Configuration cleared. You can run /setup in any group to reconfigure.")
}

func (h *Handler) handleHelp(ctx context.Context, msg chat.Message) {
	var b strings.Builder
	b.WriteString("*Bridge commands*\n\n")
	b.WriteString("/setup - Initialize this group as control center\n")
	b.WriteString("/reset - Remove bridge configuration\n")
	b.WriteString("/status - List every registered task\n")
	b.WriteString("/help - Show this help message\n\n")
	b.WriteString("*In task topics:*\n")
	b.WriteString("/debug - Debug a notification (reply to it)\n")
	b.WriteString("/todo <item> - Add a todo item for the active agent\n")
	b.WriteString("/spawn <text> - Ask the operator to spawn a new task\n")
	b.WriteString("/cleanup [<name>] - Ask the operator to clean up a task\n")
	b.WriteString("/tmux - Dump the raw multiplexer session/pane listing\n")
	b.WriteString("/show - Capture the current pane contents for this topic\n")
	b.WriteString("/recover - Re-run crash recovery against marker files\n")

	cfg := h.Config.Get()
	if cfg.IsConfigured() {
		fmt.Fprintf(&b, "\n_Status: configured (group %d)_", cfg.GroupID)
	} else {
		b.WriteString("\n_Status: not configured_")
	}
	h.reply(ctx, msg, b.String())
}

// handleStatus lists every registered task with a status emoji, grounded
// on session_worker.py's STATUS_PREFIXES (lifecycle.StatusEmoji).
func (h *Handler) handleStatus(ctx context.Context, msg chat.Message) {
	tasks := h.Registry.All()
	if len(tasks) == 0 {
		h.reply(ctx, msg, "No tasks registered.")
		return
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })

	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s %s (%s)\n", lifecycle.StatusEmoji(t.Status), t.Name, t.Flavor)
	}
	h.reply(ctx, msg, b.String())
}

// activePane returns the pane backing the most recently notified
// message-state entry, per bot_commands.py's _get_active_pane.
func (h *Handler) activePane() (string, bool) {
	var latest time.Time
	var pane string
	for _, e := range h.State.All() {
		if e.Pane != "" && e.NotifiedAt.After(latest) {
			latest = e.NotifiedAt
			pane = e.Pane
		}
	}
	return pane, pane != ""
}

func (h *Handler) handleTodo(ctx context.Context, msg chat.Message, arg string) {
	if arg == "" {
		h.reply(ctx, msg, "Usage: /todo <item>")
		return
	}
	pane, ok := h.activePane()
	if !ok {
		h.reply(ctx, msg, "No active pane found.")
		return
	}
	if poller.SendToPane(ctx, h.Driver, pane, "[TODO] "+arg) {
		h.react(ctx, msg)
	} else {
		h.reply(ctx, msg, "Failed to send to pane.")
	}
}

// handleDebug injects a metadata dump directly into the pane backing the
// replied-to message's state entry, rather than answering in chat;
// success is acknowledged with a reaction, not a reply. Grounded on
// bot_commands.py's _handle_debug (log-scan fallback omitted: this
// bridge's message-state is always flushed to disk on every mutation, so
// there is no "entry predates the running daemon" case to fall back for).
func (h *Handler) handleDebug(ctx context.Context, msg chat.Message, note string) {
	if msg.ReplyToID == 0 {
		h.reply(ctx, msg, "Reply to a notification with /debug to inspect it.")
		return
	}

	entry, ok := h.State.Get(msg.ReplyToID)
	if !ok {
		h.reply(ctx, msg, fmt.Sprintf("msg_id=%d not in state.", msg.ReplyToID))
		return
	}

	if entry.Pane == "" || !h.Driver.HasSession(ctx, entry.Pane) {
		h.reply(ctx, msg, fmt.Sprintf("Pane %s not available.", entry.Pane))
		return
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("[DEBUG] chat msg_id=%d", msg.ReplyToID))
	if note != "" {
		lines = append(lines, "User note: "+note)
	}
	lines = append(lines,
		fmt.Sprintf("Type: %s", entry.Type),
		fmt.Sprintf("Pane: %s", entry.Pane),
		fmt.Sprintf("CWD: %s", chat.StripHome(h.Home, entry.CWD)),
	)
	if !entry.NotifiedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("Notified: %s (%s ago)",
			entry.NotifiedAt.Format("15:04:05"), time.Since(entry.NotifiedAt).Round(time.Second)))
	}
	switch entry.Type {
	case notify.EntryPermissionPrompt:
		lines = append(lines,
			fmt.Sprintf("Tool: %s", entry.ToolName),
			fmt.Sprintf("Tool ID: %s", entry.ToolUseID),
			fmt.Sprintf("Handled: %t", entry.Handled),
			fmt.Sprintf("Has result in transcript: %t", watch.ToolHasResult(entry.TranscriptPath, entry.ToolUseID)),
		)
	case notify.EntryIdle:
		lines = append(lines, fmt.Sprintf("Claude msg ID: %s", entry.ClaudeMsgID))
	}

	if poller.SendToPane(ctx, h.Driver, entry.Pane, strings.Join(lines, "\n")) {
		h.react(ctx, msg)
	} else {
		h.reply(ctx, msg, "Failed to send to pane.")
	}
}

// handleSpawn builds a rich multi-line prompt (banner + source task +
// description) and forwards it to the operator pane, per spec §8
// scenario 5, rather than spawning directly — the operator agent is the
// one that actually decides flavor/repo/name and calls back into the
// bridge, same division of labor as ordinary chat routing.
func (h *Handler) handleSpawn(ctx context.Context, msg chat.Message, arg string) {
	if arg == "" {
		h.reply(ctx, msg, "Usage: /spawn <description>")
		return
	}
	h.forwardToOperator(ctx, msg, "🆕 Spawn request", arg)
}

func (h *Handler) handleCleanup(ctx context.Context, msg chat.Message, arg string) {
	name := arg
	if name == "" {
		if task, ok := h.Registry.GetByTopic(msg.ThreadID); ok {
			name = task.Name
		}
	}
	if name == "" {
		h.reply(ctx, msg, "Usage: /cleanup <name> (or run from inside the task's topic)")
		return
	}
	h.forwardToOperator(ctx, msg, "🧹 Cleanup request", name)
}

func (h *Handler) forwardToOperator(ctx context.Context, msg chat.Message, banner, body string) {
	cfg := h.Config.Get()
	if cfg.OperatorPane == "" {
		h.reply(ctx, msg, "No operator pane configured.")
		return
	}

	source := "general"
	if task, ok := h.Registry.GetByTopic(msg.ThreadID); ok {
		source = task.Name
	}

	prompt := fmt.Sprintf("%s (from %s, chat msg_id=%d):\n%s", banner, source, msg.MessageID, body)
	if poller.SendToPane(ctx, h.Driver, cfg.OperatorPane, prompt) {
		h.react(ctx, msg)
	} else {
		h.reply(ctx, msg, "Failed to reach the operator pane.")
	}
}

// handleTmux dumps the raw multiplexer session/pane listing, for operator
// diagnostics.
func (h *Handler) handleTmux(ctx context.Context, msg chat.Message) {
	panes, err := h.Driver.ListPanes(ctx, true, "")
	if err != nil {
		h.reply(ctx, msg, "tmux listing failed: "+err.Error())
		return
	}
	if len(panes) == 0 {
		h.reply(ctx, msg, "No tmux sessions.")
		return
	}
	var b strings.Builder
	b.WriteString("```\n")
	for _, p := range panes {
		fmt.Fprintf(&b, "%-24s %s\n", p.ID, chat.StripHome(h.Home, p.CWD))
	}
	b.WriteString("```")
	h.reply(ctx, msg, b.String())
}

// handleShow captures the current pane contents for the task topic the
// command was issued in, useful when a worker appears stuck.
func (h *Handler) handleShow(ctx context.Context, msg chat.Message) {
	task, ok := h.Registry.GetByTopic(msg.ThreadID)
	if !ok || task.Pane == "" {
		h.reply(ctx, msg, "No worker pane for this topic.")
		return
	}
	content, err := h.Driver.CapturePane(ctx, task.Pane, 0)
	if err != nil {
		h.reply(ctx, msg, "Capture failed: "+err.Error())
		return
	}
	h.reply(ctx, msg, "```\n"+content+"\n```")
}

// handleRecover invokes the crash-recovery walk on demand, mirroring what
// startup does automatically.
func (h *Handler) handleRecover(ctx context.Context, msg chat.Message) {
	result, err := registry.RecoverFromMarkers(h.Home, h.Registry)
	if err != nil {
		h.reply(ctx, msg, "Recovery walk failed: "+err.Error())
		return
	}
	h.reply(ctx, msg, fmt.Sprintf(
		"Recovery complete: %d reinserted, %d pending, %d corrupt.",
		len(result.Reinserted), len(result.Pending), len(result.Corrupt)))
}
