package poller

import (
	"context"
	"fmt"
	"strings"

	"github.com/cabridge/cabridge/internal/chat"
	"github.com/cabridge/cabridge/internal/mux"
	"github.com/cabridge/cabridge/internal/notify"
	"github.com/cabridge/cabridge/internal/registry"
	"github.com/cabridge/cabridge/internal/watch"
)

// CommandHandler is implemented by internal/commands; Router calls it for
// any message whose text starts with "/" before falling through to the
// ordinary routing rules, exactly mirroring telegram_poller.py's
// handle_message giving bot_commands.CommandHandler first refusal.
type CommandHandler interface {
	// HandleCommand processes msg if it's a recognized command, reporting
	// whether it was handled (and so should short-circuit further routing).
	HandleCommand(ctx context.Context, msg chat.Message) bool
}

// Router dispatches inbound chat updates to the right pane, and
// reconciles button clicks against the notification state store.
// Grounded on telegram_poller.py's TelegramPoller.
type Router struct {
	Chat     chat.API
	Driver   mux.Driver
	Registry *registry.Registry
	Config   *registry.ConfigStore
	State    *notify.Store
	Home     string
	Commands CommandHandler
}

// HandleUpdate dispatches one Update to HandleCallback or HandleMessage.
func (r *Router) HandleUpdate(ctx context.Context, u chat.Update) {
	if u.Callback != nil {
		r.HandleCallback(ctx, *u.Callback)
		return
	}
	if u.Message != nil {
		r.HandleMessage(ctx, *u.Message)
	}
}

// HandleCallback processes one inline-button click.
func (r *Router) HandleCallback(ctx context.Context, cb chat.Callback) {
	if cb.Data == "_" {
		_ = r.Chat.AnswerCallbackQuery(ctx, cb.ID, "Already handled")
		return
	}

	entry, ok := r.State.Get(cb.MessageID)
	if !ok {
		_ = r.Chat.AnswerCallbackQuery(ctx, cb.ID, "Session not found")
		return
	}
	if entry.Handled {
		_ = r.Chat.AnswerCallbackQuery(ctx, cb.ID, "Already handled")
		return
	}

	pane := entry.Pane
	isPermission := entry.Type == notify.EntryPermissionPrompt

	// Non-permission notifications go stale once a newer one exists for
	// the same pane; permission prompts instead rely on the tool_result
	// check below, since Claude can queue several tool_use calls at once
	// and a newer prompt doesn't mean an older one is stale.
	if !isPermission {
		if r.isStale(pane, cb.MessageID) {
			_ = r.Chat.AnswerCallbackQuery(ctx, cb.ID, "Stale prompt")
			_ = r.Chat.EditMessageReplyMarkup(ctx, cb.ChatID, cb.MessageID, "⏰ Expired", "_")
			r.State.MarkHandled(cb.MessageID)
			return
		}
	}

	if isPermission && watch.ToolHasResult(entry.TranscriptPath, entry.ToolUseID) {
		_ = r.Chat.AnswerCallbackQuery(ctx, cb.ID, "Already handled in TUI")
		_ = r.Chat.EditMessageReplyMarkup(ctx, cb.ChatID, cb.MessageID, "⏰ Expired", "_")
		r.State.MarkHandled(cb.MessageID)
		return
	}

	if cb.Data == "y" || cb.Data == "n" || cb.Data == "a" {
		r.handlePermissionResponse(ctx, cb, entry, isPermission, pane)
		return
	}

	if SendToPane(ctx, r.Driver, pane, cb.Data) {
		_ = r.Chat.AnswerCallbackQuery(ctx, cb.ID, "Sent: "+cb.Data)
	} else {
		_ = r.Chat.AnswerCallbackQuery(ctx, cb.ID, "Failed")
	}
}

func (r *Router) handlePermissionResponse(ctx context.Context, cb chat.Callback, entry notify.Entry, isPermission bool, pane string) {
	if !isPermission {
		_ = r.Chat.AnswerCallbackQuery(ctx, cb.ID, "No active prompt")
		return
	}

	labels := map[string]string{"y": "Allowed", "a": alwaysLabel(entry.ToolName), "n": "Denied"}
	if !SendPermissionResponse(ctx, r.Driver, pane, cb.Data) {
		_ = r.Chat.AnswerCallbackQuery(ctx, cb.ID, "Failed: pane dead")
		r.State.MarkHandled(cb.MessageID)
		return
	}

	_ = r.Chat.AnswerCallbackQuery(ctx, cb.ID, labels[cb.Data])
	_ = r.Chat.EditMessageReplyMarkup(ctx, cb.ChatID, cb.MessageID, ActionLabel(cb.Data, entry.ToolName), "_")
	r.State.MarkHandled(cb.MessageID)

	if cb.Data == "n" {
		// A denial interrupts Claude's whole batch of queued tool calls,
		// so every other still-pending permission prompt for this pane is
		// now moot.
		for otherID, other := range r.State.ForPane(pane) {
			if otherID == cb.MessageID || other.Type != notify.EntryPermissionPrompt {
				continue
			}
			_ = r.Chat.EditMessageReplyMarkup(ctx, other.ChatID, otherID, "❌ Denied via batch denial", "_")
			r.State.MarkHandled(otherID)
		}
	}
}

func alwaysLabel(toolName string) string {
	if toolName == "" {
		return "Always allowed"
	}
	return "Always: " + toolName
}

func (r *Router) isStale(pane string, messageID int) bool {
	latest := 0
	for id, e := range r.State.All() {
		if e.Pane == pane && id > latest {
			latest = id
		}
	}
	return messageID < latest
}

// HandleMessage processes one inbound chat message.
func (r *Router) HandleMessage(ctx context.Context, msg chat.Message) {
	if strings.HasPrefix(msg.Text, "/") && r.Commands != nil {
		if r.Commands.HandleCommand(ctx, msg) {
			return
		}
	}

	cfg := r.Config.Get()
	if !cfg.IsConfigured() {
		return
	}

	if msg.IsPrivate {
		r.routeToOperator(ctx, msg)
		return
	}

	if msg.ChatID != cfg.GroupID {
		return
	}

	isGeneral := msg.ThreadID == 0 || msg.ThreadID == cfg.GeneralTopicID
	if isGeneral {
		r.routeToOperator(ctx, msg)
		return
	}

	if msg.ReplyToID != 0 && msg.Text != "" {
		if entry, ok := r.State.Get(msg.ReplyToID); ok {
			if r.handleReplyToTracked(ctx, msg, entry) {
				return
			}
		}
	}

	if msg.ThreadID != 0 {
		if task, ok := r.Registry.GetByTopic(msg.ThreadID); ok && task.Pane != "" {
			r.routeToPane(ctx, msg, task.Pane, fmt.Sprintf("worker (topic %d)", msg.ThreadID))
		}
	}
}

// handleReplyToTracked implements the three-way routing decision for a
// reply to a message the notifier is tracking: forward to the open
// permission prompt's free-text slot, block with a warning if a
// *different* permission is pending, or fall through to ordinary pane
// input if nothing is pending.
func (r *Router) handleReplyToTracked(ctx context.Context, msg chat.Message, entry notify.Entry) bool {
	if entry.Pane == "" {
		return false
	}

	pendingToolID, hasPending := watch.PendingToolID(entry.TranscriptPath)
	if hasPending {
		if entry.ToolUseID == pendingToolID {
			if SendTextToPermissionPrompt(ctx, r.Driver, entry.Pane, msg.Text) {
				_ = r.Chat.EditMessageReplyMarkup(ctx, msg.ChatID, msg.ReplyToID, "💬 Replied", "_")
				r.State.MarkHandled(msg.ReplyToID)
				r.react(ctx, msg)
			}
			return true
		}
		_, _ = r.Chat.SendMessage(ctx, msg.ChatID, msg.ThreadID,
			"⚠️ Ignored: there's a pending permission prompt. Please respond to that first.", nil)
		return true
	}

	if SendToPane(ctx, r.Driver, entry.Pane, msg.Text) {
		r.react(ctx, msg)
	}
	return true
}

func (r *Router) routeToOperator(ctx context.Context, msg chat.Message) {
	cfg := r.Config.Get()
	if cfg.OperatorPane == "" {
		return
	}
	r.routeToPane(ctx, msg, cfg.OperatorPane, "operator")
}

func (r *Router) routeToPane(ctx context.Context, msg chat.Message, pane, targetName string) {
	if msg.Text == "" {
		return
	}
	formatted := formatIncomingMessage(msg, r.State)
	if SendToPane(ctx, r.Driver, pane, formatted) {
		r.react(ctx, msg)
	}
}

func (r *Router) react(ctx context.Context, msg chat.Message) {
	_ = r.Chat.SetMessageReaction(ctx, msg.ChatID, msg.MessageID, "👍")
}

// formatIncomingMessage prefixes a forwarded message with its chat
// metadata and any reply context, so the worker/operator session sees
// who sent it and what it's replying to, per
// telegram_poller.py's _format_incoming_message.
func formatIncomingMessage(msg chat.Message, state *notify.Store) string {
	var b strings.Builder
	if msg.ThreadID != 0 {
		fmt.Fprintf(&b, "[chat msg_id=%d topic=%d from=%s]", msg.MessageID, msg.ThreadID, msg.FromName)
	} else {
		fmt.Fprintf(&b, "[chat msg_id=%d from=%s]", msg.MessageID, msg.FromName)
	}

	if msg.ReplyToID != 0 {
		if entry, ok := state.Get(msg.ReplyToID); ok {
			fmt.Fprintf(&b, "\n[State: type=%s, pane=%s]", entry.Type, entry.Pane)
		}
	}

	b.WriteString("\n")
	b.WriteString(msg.Text)
	return b.String()
}
