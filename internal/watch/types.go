// Package watch tails Claude Code transcript files looking for permission
// prompts, idle replies, and compaction events, translating the observed
// behavior of original_source/transcript_watcher.py into a tick-based Go
// poller (SPEC_FULL.md §3/§4.1).
package watch

import "time"

// PendingTool is a tool_use entry waiting on the user's permission.
type PendingTool struct {
	ToolID          string
	ToolName        string
	ToolInput       map[string]interface{}
	AssistantText   string
	TranscriptPath  string
	Pane            string
	CWD             string
	DetectedAt      time.Time
}

// CompactionEvent fires when Claude's context window was compacted.
type CompactionEvent struct {
	Trigger   string // "auto" or "manual"
	PreTokens int
	Pane      string
	CWD       string
}

// IdleEvent fires when Claude finished a text-only turn and is waiting on
// the next prompt.
type IdleEvent struct {
	Text           string
	Pane           string
	CWD            string
	TranscriptPath string
	MsgID          string // assistant message id, used for supersession detection
}

// Activity reports that a transcript had new content this tick, regardless
// of whether it produced a PendingTool/CompactionEvent/IdleEvent — used to
// drive the chat "typing…" indicator.
type Activity struct {
	Pane string
	CWD  string
}

// skipTools are always auto-approved by Claude Code itself and must never
// generate a permission prompt.
var skipTools = map[string]bool{
	"BashOutput":     true,
	"KillShell":      true,
	"AgentOutputTool": true,
	"TodoWrite":      true,
}

// notifyDelay is how long a pending tool sits unnotified, giving its
// tool_result a chance to arrive first (auto-accepted tools resolve within
// well under this window, so they never produce a prompt at all).
const notifyDelay = 400 * time.Millisecond
