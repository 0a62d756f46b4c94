// Package lifecycle owns a task's full life: worktree/session creation,
// the crash-safe pending→complete marker protocol, pause/resume, and
// cleanup — grounded on original_source/session_worker.py and
// session_operator.py, with git-worktree handling adapted from
// wingedpig-trellis's internal/worktree package.
package lifecycle

import "strings"

// OperatorSessionName is the fixed tmux session name for the always-on
// operator pane (spec §5's "ca-op" convention).
const OperatorSessionName = "ca-op"

// SessionName returns the tmux session name for a task, per spec §5's
// "ca-<task-name>" convention (shared by both worktree- and
// session-flavor tasks, unlike the Python original's per-flavor
// `claude-<repo>-<task>` / bare session-name schemes).
func SessionName(taskName string) string {
	return "ca-" + taskName
}

// SanitizeBranch makes a task name safe to use as both a git branch name
// and a worktree directory component, replacing path separators that
// would otherwise create nested directories or invalid refs.
func SanitizeBranch(taskName string) string {
	return strings.ReplaceAll(taskName, "/", "-")
}
