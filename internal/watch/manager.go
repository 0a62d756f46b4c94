package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cabridge/cabridge/internal/mux"
)

// Manager owns one Watcher per discovered transcript and fans its
// per-tick results together, translating TranscriptManager from the
// Python original.
type Manager struct {
	driver mux.Driver
	home   string

	watchers        map[string]*Watcher // transcript path -> watcher
	paneToTranscript map[string]string
}

// NewManager returns a manager that discovers transcripts via driver,
// resolving Claude's project directory under home (usually os.UserHomeDir()).
func NewManager(driver mux.Driver, home string) *Manager {
	return &Manager{
		driver:           driver,
		home:             home,
		watchers:         make(map[string]*Watcher),
		paneToTranscript: make(map[string]string),
	}
}

// encodeCWD mirrors Claude Code's project-directory encoding: every "/" and
// "." in the absolute path becomes "-".
func encodeCWD(cwd string) string {
	return strings.NewReplacer("/", "-", ".", "-").Replace(cwd)
}

// DecodeCWDFromPath recovers an approximate cwd from a transcript path of
// the form ~/.claude/projects/{encoded}/{session}.jsonl, for the case
// where a watcher is attached from saved state without a recorded cwd.
// The encoding is lossy (hyphens in real path segments are indistinguishable
// from path separators), so this is a best-effort fallback only.
func DecodeCWDFromPath(transcriptPath string) string {
	parts := strings.Split(transcriptPath, string(filepath.Separator))
	for i, p := range parts {
		if p == "projects" && i+1 < len(parts) {
			encoded := parts[i+1]
			return strings.Replace("/"+encoded, "-", "/", 3)
		}
	}
	return ""
}

func transcriptGlobPattern(home, cwd string) string {
	return filepath.Join(home, ".claude", "projects", encodeCWD(cwd), "*.jsonl")
}

// latestTranscript returns the most recently modified *.jsonl file
// matching pattern, or "" if none exist.
func latestTranscript(pattern string) string {
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, erri := os.Stat(matches[i])
		fj, errj := os.Stat(matches[j])
		if erri != nil || errj != nil {
			return false
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches[0]
}

// DiscoverTranscripts lists every tmux pane and attaches a watcher to
// whichever transcript under that pane's cwd was most recently modified,
// for panes not already being watched.
func (m *Manager) DiscoverTranscripts(ctx context.Context) {
	panes, err := m.driver.ListPanes(ctx, true, "")
	if err != nil {
		return
	}
	for _, p := range panes {
		pattern := transcriptGlobPattern(m.home, p.CWD)
		path := latestTranscript(pattern)
		if path == "" {
			continue
		}
		if _, ok := m.watchers[path]; !ok {
			size := fileSize(path)
			m.watchers[path] = NewWatcher(path, p.ID, p.CWD, size)
		}
		m.paneToTranscript[p.ID] = path
	}
}

// SavedStateEntry is the subset of message-state fields (see
// internal/notify) relevant to re-attaching a watcher after a daemon
// restart.
type SavedStateEntry struct {
	TranscriptPath string
	Pane           string
	CWD            string
}

// AttachFromState re-attaches watchers for transcripts referenced by
// previously-persisted message state (internal/notify), skipping any
// already watched or no longer present on disk, and seeding each new
// watcher's tool_results from the transcript's own history so stale
// pending notifications expire instead of re-firing.
func (m *Manager) AttachFromState(entries []SavedStateEntry) {
	for _, e := range entries {
		if e.TranscriptPath == "" || e.Pane == "" {
			continue
		}
		if _, ok := m.watchers[e.TranscriptPath]; ok {
			continue
		}
		if _, err := os.Stat(e.TranscriptPath); err != nil {
			continue
		}

		cwd := e.CWD
		if cwd == "" {
			cwd = DecodeCWDFromPath(e.TranscriptPath)
		}

		size := fileSize(e.TranscriptPath)
		w := NewWatcher(e.TranscriptPath, e.Pane, cwd, size)
		w.SeedToolResults(scanExistingToolResults(e.TranscriptPath))

		m.watchers[e.TranscriptPath] = w
		m.paneToTranscript[e.Pane] = e.TranscriptPath
	}
}

func scanExistingToolResults(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		var entry transcriptEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.Type != "user" {
			continue
		}
		for _, c := range entry.Message.Content {
			if c["type"] != "tool_result" {
				continue
			}
			if id, _ := c["tool_use_id"].(string); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// CleanupDead drops watchers whose tmux pane no longer exists.
func (m *Manager) CleanupDead(ctx context.Context) {
	for path, w := range m.watchers {
		if m.driver.HasSession(ctx, paneSession(w.Pane)) {
			continue
		}
		delete(m.watchers, path)
		delete(m.paneToTranscript, w.Pane)
	}
}

func paneSession(pane string) string {
	if i := strings.IndexByte(pane, ':'); i >= 0 {
		return pane[:i]
	}
	return pane
}

// CheckAll ticks every watcher and aggregates their results.
func (m *Manager) CheckAll() (tools []PendingTool, compactions []CompactionEvent, idle []IdleEvent, activity []Activity) {
	for _, w := range m.watchers {
		t, c, i, had := w.Check()
		tools = append(tools, t...)
		compactions = append(compactions, c...)
		idle = append(idle, i...)
		if had {
			activity = append(activity, Activity{Pane: w.Pane, CWD: w.CWD})
		}
	}
	return tools, compactions, idle, activity
}

// Attach registers an already-constructed watcher directly, bypassing
// discovery — used by tests and by callers that build a Watcher from
// saved state themselves.
func (m *Manager) Attach(path string, w *Watcher) {
	m.watchers[path] = w
	m.paneToTranscript[w.Pane] = path
}

// TranscriptForPane returns the transcript path currently attached to
// pane, if any.
func (m *Manager) TranscriptForPane(pane string) (string, bool) {
	path, ok := m.paneToTranscript[pane]
	return path, ok
}

// HasToolResult reports whether the watcher for transcriptPath has
// recorded a result for toolID. Returns false if no such watcher exists
// (e.g. it was already cleaned up).
func (m *Manager) HasToolResult(transcriptPath, toolID string) bool {
	w, ok := m.watchers[transcriptPath]
	if !ok {
		return false
	}
	return w.HasResult(toolID)
}

// FindWatcherWithToolUseMessage reports the transcript path of whichever
// watcher has seen msgID carrying a tool_use, if any.
func (m *Manager) FindWatcherWithToolUseMessage(msgID string) (string, bool) {
	for path, w := range m.watchers {
		if w.HasToolUseForMessage(msgID) {
			return path, true
		}
	}
	return "", false
}

// Panes returns every pane currently attached to a watcher.
func (m *Manager) Panes() []string {
	panes := make([]string, 0, len(m.paneToTranscript))
	for pane := range m.paneToTranscript {
		panes = append(panes, pane)
	}
	return panes
}
