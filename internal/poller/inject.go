// Package poller handles inbound chat updates: button clicks are
// translated into tmux key sequences against the pending permission
// prompt's pane, and text messages are routed to the operator pane, a
// worker pane, or an open permission prompt's free-text reply slot.
// Grounded on original_source/telegram_poller.py.
package poller

import (
	"context"
	"time"

	"github.com/cabridge/cabridge/internal/mux"
)

// settleDelay is how long the injector waits after sending literal text
// before sending the terminating Enter, giving tmux's pane buffer time to
// catch up on longer payloads. Validated against a real pty round-trip in
// internal/mux's settle-delay test.
func settleDelay(text string) time.Duration {
	return 100*time.Millisecond + time.Duration(len(text))*100*time.Microsecond
}

// keyDelay is the short pause between individual key presses in a
// multi-key sequence (arrow-key navigation, etc).
const keyDelay = 20 * time.Millisecond

// SendToPane clears the pane's input line and injects text as regular
// input: clear, literal text, settle, Enter.
func SendToPane(ctx context.Context, driver mux.Driver, pane, text string) bool {
	if err := driver.SendKey(ctx, pane, "C-u"); err != nil {
		return false
	}
	if err := driver.SendLiteral(ctx, pane, text); err != nil {
		return false
	}
	time.Sleep(settleDelay(text))
	return driver.SendKey(ctx, pane, "Enter") == nil
}

// SendTextToPermissionPrompt opens a permission dialog's free-text reply
// slot (option 3: "Tell Claude something") and types text into it: clear,
// Down, Down, Enter-to-open-buffer, literal text, settle, Enter.
func SendTextToPermissionPrompt(ctx context.Context, driver mux.Driver, pane, text string) bool {
	if err := driver.SendKey(ctx, pane, "C-u"); err != nil {
		return false
	}
	time.Sleep(keyDelay)
	if err := driver.SendKey(ctx, pane, "Down"); err != nil {
		return false
	}
	time.Sleep(keyDelay)
	if err := driver.SendKey(ctx, pane, "Down"); err != nil {
		return false
	}
	time.Sleep(keyDelay)
	if err := driver.SendKey(ctx, pane, "Enter"); err != nil {
		return false
	}
	time.Sleep(100 * time.Millisecond)
	if err := driver.SendLiteral(ctx, pane, text); err != nil {
		return false
	}
	time.Sleep(settleDelay(text))
	return driver.SendKey(ctx, pane, "Enter") == nil
}

// SendPermissionResponse answers a permission dialog via arrow-key
// navigation: "y" accepts (Enter), "a" accepts and suppresses future
// prompts for the same action (Down, Enter), anything else ("n") declines
// (Down, Down, Enter).
func SendPermissionResponse(ctx context.Context, driver mux.Driver, pane, response string) bool {
	switch response {
	case "y":
		return driver.SendKey(ctx, pane, "Enter") == nil
	case "a":
		if err := driver.SendKey(ctx, pane, "Down"); err != nil {
			return false
		}
		time.Sleep(keyDelay)
		return driver.SendKey(ctx, pane, "Enter") == nil
	default: // "n"
		if err := driver.SendKey(ctx, pane, "Down"); err != nil {
			return false
		}
		time.Sleep(keyDelay)
		if err := driver.SendKey(ctx, pane, "Down"); err != nil {
			return false
		}
		time.Sleep(keyDelay)
		return driver.SendKey(ctx, pane, "Enter") == nil
	}
}

// ActionLabel returns the button label a permission prompt collapses to
// after response.
func ActionLabel(action, toolName string) string {
	switch action {
	case "y":
		return "✓ Allowed"
	case "a":
		return "✓ Always"
	case "n":
		return "❌ Denied"
	case "replied":
		return "💬 Replied"
	default:
		return "⏰ Expired"
	}
}
