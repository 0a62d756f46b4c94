package lifecycle

import "fmt"

// SpawnPrompt builds the scripted first prompt sent to a freshly-started
// agent, per spec §4.6's "scripted first prompt that asks the agent to
// summarise and await confirmation" — a deliberate replacement for
// original_source/session_worker.py's bare `claude "{description}"`.
func SpawnPrompt(description string) string {
	return fmt.Sprintf(
		`claude "Your task: %s. Before doing anything else, restate your understanding of this task in your own words and wait for explicit confirmation before proceeding."`,
		description,
	)
}

// ResumeCommand is the first command tried against a recreated pane on
// resume — reattaching the agent to its prior conversation.
const ResumeCommand = "claude --resume"

// ResumeFallbackPrompt builds the command used when ResumeCommand reports
// no prior session to resume, per SPEC_FULL.md §4.6a's fallback chain.
func ResumeFallbackPrompt(description string) string {
	return fmt.Sprintf(`claude "%s"`, description)
}

// NoPriorSessionMarkers are substrings Claude CLI prints when --resume
// finds nothing to attach to; the lifecycle manager greps a short capture
// of the pane for any of these before falling back.
var NoPriorSessionMarkers = []string{
	"No conversation found",
	"no session",
	"No session",
}
