package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/cabridge/cabridge/internal/chat"
	"github.com/cabridge/cabridge/internal/watch"
)

// quickResponseThreshold: if a tool's result arrives within this long of
// its notification, the notification is deleted outright (quick response,
// nothing worth showing). Past it, the message is left in place but
// marked expired so the user can see what happened.
const quickResponseThreshold = 4 * time.Second

// idleSupersessionThreshold: if an idle notification gets superseded by a
// tool_use within this long, it's deleted outright rather than left
// visible — Claude moved on before the user could have reacted to it.
const idleSupersessionThreshold = 4 * time.Second

// expiredLabel is the button label a permission prompt is collapsed to
// once its window for a live response has passed.
const expiredLabel = "⏰ Expired"

// Notifier turns watch events into chat messages and reconciles
// previously-sent messages against newly-observed transcript state.
// Grounded on original_source/telegram-daemon.py's handler functions.
type Notifier struct {
	Chat  chat.API
	Home  string
	State *Store
}

// New returns a Notifier.
func New(c chat.API, home string, state *Store) *Notifier {
	return &Notifier{Chat: c, Home: home, State: state}
}

// NotifyTool sends a permission-prompt message for tool and records its
// state entry, so later ticks can reconcile it against the tool's result.
func (n *Notifier) NotifyTool(ctx context.Context, chatID int64, threadID int, tool watch.PendingTool) (int, error) {
	project := chat.StripHome(n.Home, tool.CWD)
	var prefix string
	if tool.AssistantText != "" {
		prefix = chat.EscapeMarkdown(tool.AssistantText) + "\n\n---\n\n"
	}
	body := chat.ToolPermissionText(n.Home, tool.ToolName, tool.ToolInput)
	text := fmt.Sprintf("`%s`\n\n%s%s", project, prefix, body)

	buttons := []chat.Button{{Label: "Allow", Data: "y"}, {Label: "Deny", Data: "n"}}

	msgID, err := n.Chat.SendMessage(ctx, chatID, threadID, text, buttons)
	if err != nil {
		return 0, fmt.Errorf("notify tool %s: %w", tool.ToolName, err)
	}

	n.State.Set(msgID, Entry{
		ChatID:         chatID,
		ThreadID:       threadID,
		Pane:           tool.Pane,
		Type:           EntryPermissionPrompt,
		TranscriptPath: tool.TranscriptPath,
		ToolUseID:      tool.ToolID,
		ToolName:       tool.ToolName,
		CWD:            tool.CWD,
		NotifiedAt:     time.Now(),
	})
	return msgID, nil
}

// NotifyIdle sends a message reporting Claude's text-only turn and
// records its state entry so a later tool_use for the same Claude message
// id can supersede it.
func (n *Notifier) NotifyIdle(ctx context.Context, chatID int64, threadID int, event watch.IdleEvent) (int, error) {
	project := chat.StripHome(n.Home, event.CWD)
	text := fmt.Sprintf("`%s`\n\n💬 %s", project, chat.EscapeMarkdown(event.Text))

	msgID, err := n.Chat.SendMessage(ctx, chatID, threadID, text, nil)
	if err != nil {
		return 0, fmt.Errorf("notify idle: %w", err)
	}

	if event.MsgID != "" {
		n.State.Set(msgID, Entry{
			ChatID:         chatID,
			ThreadID:       threadID,
			Pane:           event.Pane,
			Type:           EntryIdle,
			TranscriptPath: event.TranscriptPath,
			ClaudeMsgID:    event.MsgID,
			CWD:            event.CWD,
			NotifiedAt:     time.Now(),
		})
	}
	return msgID, nil
}

// NotifyCompaction sends a fire-and-forget compaction notice; compactions
// aren't reconciled against later state, so no entry is recorded.
func (n *Notifier) NotifyCompaction(ctx context.Context, chatID int64, threadID int, event watch.CompactionEvent) error {
	project := chat.StripHome(n.Home, event.CWD)
	text := fmt.Sprintf("`%s`\n\n🔄 Context compacted (%s, %d tokens)", project, event.Trigger, event.PreTokens)
	_, err := n.Chat.SendMessage(ctx, chatID, threadID, text, nil)
	return err
}

// ReconcileCompletedTools deletes (quick) or expires (slow) each
// not-yet-handled permission-prompt entry whose tool now has a result in
// mgr, per the quick/slow response windows in SPEC_FULL.md §4.2.
func (n *Notifier) ReconcileCompletedTools(ctx context.Context, mgr *watch.Manager) {
	now := time.Now()
	for msgID, e := range n.State.All() {
		if e.Handled || e.Type != EntryPermissionPrompt || e.ToolUseID == "" {
			continue
		}
		if !mgr.HasToolResult(e.TranscriptPath, e.ToolUseID) {
			continue
		}

		elapsed := now.Sub(e.NotifiedAt)
		if elapsed < quickResponseThreshold {
			_ = n.Chat.DeleteMessage(ctx, e.ChatID, msgID)
			n.State.Delete(msgID)
		} else {
			_ = n.Chat.EditMessageReplyMarkup(ctx, e.ChatID, msgID, expiredLabel, "_")
			n.State.MarkHandled(msgID)
		}
	}
}

// ReconcileSupersededIdle deletes (quick) each idle entry whose Claude
// message id now shows up carrying a tool_use in mgr — Claude moved past
// the idle turn before it mattered — or, past the supersession window
// (slow), marks it superseded and leaves it visible in state rather than
// deleting it, per spec.md §4.2.
func (n *Notifier) ReconcileSupersededIdle(ctx context.Context, mgr *watch.Manager) {
	now := time.Now()
	for msgID, e := range n.State.All() {
		if e.Type != EntryIdle || e.ClaudeMsgID == "" || e.Superseded {
			continue
		}
		if _, superseded := mgr.FindWatcherWithToolUseMessage(e.ClaudeMsgID); !superseded {
			continue
		}

		elapsed := now.Sub(e.NotifiedAt)
		if elapsed < idleSupersessionThreshold {
			_ = n.Chat.DeleteMessage(ctx, e.ChatID, msgID)
			n.State.Delete(msgID)
		} else {
			n.State.MarkSuperseded(msgID)
		}
	}
}

// ExpireOldButtons collapses every outstanding idle entry for a pane
// except the most recently notified one, so a batch of idle notifications
// never leaves more than one live set of buttons per pane. Permission
// prompts are excluded: the agent can legitimately queue several
// concurrent tool_use requests, so an older unhandled prompt is never
// stale purely by id ordering (spec.md §4.2).
func (n *Notifier) ExpireOldButtons(ctx context.Context, pane string) {
	entries := n.State.ForPane(pane)
	var latest int
	for msgID, e := range entries {
		if e.Type == EntryIdle && msgID > latest {
			latest = msgID
		}
	}
	for msgID, e := range entries {
		if e.Type != EntryIdle || msgID == latest {
			continue
		}
		_ = n.Chat.EditMessageReplyMarkup(ctx, e.ChatID, msgID, expiredLabel, "_")
		n.State.MarkHandled(msgID)
	}
}

// CleanupDeadPanes removes every entry whose pane no longer appears among
// mgr's attached panes, run on the slow (5-minute) sweep per §4.1.
func (n *Notifier) CleanupDeadPanes(mgr *watch.Manager) int {
	live := make(map[string]bool)
	for _, p := range mgr.Panes() {
		live[p] = true
	}
	removed := 0
	for msgID, e := range n.State.All() {
		if !live[e.Pane] {
			n.State.Delete(msgID)
			removed++
		}
	}
	return removed
}
