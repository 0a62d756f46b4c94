// Package registry implements the three-tier durable state model: the
// in-memory task registry, the per-task marker files that are its ground
// truth for crash recovery, and the app-wide configuration singleton.
package registry

import "time"

// Flavor distinguishes how a task's working directory came to exist.
type Flavor string

const (
	FlavorWorktree Flavor = "worktree"
	FlavorSession  Flavor = "session"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// Config is the singleton app configuration (config.json).
type Config struct {
	GroupID        int64             `json:"group_id"`
	GeneralTopicID int               `json:"general_topic_id"`
	OperatorPane   string            `json:"operator_pane"`
	TopicMappings  map[string]string `json:"topic_mappings,omitempty"`
	// WorktreeBase maps a repository path to the directory name new
	// worktrees are created under (default "trees" when a repo has no
	// entry). Supplemented from original_source/session_worker.py's
	// get_worktree_path, which the distilled spec's data model is silent
	// on (see SPEC_FULL.md §3a).
	WorktreeBase map[string]string `json:"worktree_base,omitempty"`
}

// IsConfigured reports whether /setup has completed.
func (c *Config) IsConfigured() bool {
	return c != nil && c.GroupID != 0
}

// WorktreeBaseFor returns the configured worktree base directory name for
// repo, defaulting to "trees".
func (c *Config) WorktreeBaseFor(repo string) string {
	if c != nil {
		if b, ok := c.WorktreeBase[repo]; ok && b != "" {
			return b
		}
	}
	return "trees"
}

// Task is one registered agent session.
type Task struct {
	Name    string `json:"-"` // map key; not duplicated in the persisted value
	Flavor  Flavor `json:"flavor"`
	Path    string `json:"path"`
	TopicID int    `json:"topic_id"`
	Pane    string `json:"pane,omitempty"` // empty when paused
	Repo    string `json:"repo,omitempty"` // worktree flavor only
	Status  Status `json:"status"`
}

// Marker is the small JSON document at <task-dir>/.claude/army.json. A
// completed marker carries Name/Flavor/TopicID/CreatedAt(/Repo); a marker
// written mid-spawn carries only PendingTopicName/PendingSince. Exactly
// one of (Name != "") or (PendingTopicName != "") holds for a well-formed
// marker.
type Marker struct {
	Name      string    `json:"name,omitempty"`
	Flavor    Flavor    `json:"flavor,omitempty"`
	TopicID   int       `json:"topic_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Repo      string    `json:"repo,omitempty"`

	PendingTopicName string    `json:"pending_topic_name,omitempty"`
	PendingSince     time.Time `json:"pending_since,omitempty"`
}

// IsPending reports whether m describes a task still mid-creation.
func (m *Marker) IsPending() bool {
	return m.Name == "" && m.PendingTopicName != ""
}

// IsComplete reports whether m describes a fully-created task.
func (m *Marker) IsComplete() bool {
	return m.Name != ""
}

// MarkerFileName is the literal, spec-mandated marker filename. It lives
// inside each task directory's .claude/ subdirectory.
const MarkerFileName = "army.json"
