// Package notify is the notification orchestrator: it turns watch events
// into chat messages, and reconciles chat message state against the
// transcripts' completion/supersession signals on every tick. Grounded on
// original_source/telegram-daemon.py's main loop.
package notify

import (
	"sync"
	"time"

	"github.com/cabridge/cabridge/internal/store"
)

// EntryType distinguishes the two kinds of outstanding chat notification
// that get reconciled against transcript state.
type EntryType string

const (
	EntryPermissionPrompt EntryType = "permission_prompt"
	EntryIdle             EntryType = "idle"
)

// Entry tracks one sent-but-not-yet-reconciled chat message, mirroring the
// per-message-id dict the Python original keeps in its state file.
type Entry struct {
	ChatID         int64     `json:"chat_id"`
	ThreadID       int       `json:"thread_id"`
	Pane           string    `json:"pane"`
	Type           EntryType `json:"type"`
	TranscriptPath string    `json:"transcript_path,omitempty"`
	ToolUseID      string    `json:"tool_use_id,omitempty"`
	ToolName       string    `json:"tool_name,omitempty"`
	ClaudeMsgID    string    `json:"claude_msg_id,omitempty"`
	CWD            string    `json:"cwd"`
	NotifiedAt     time.Time `json:"notified_at"`
	Handled        bool      `json:"handled,omitempty"`
	Superseded     bool      `json:"superseded,omitempty"`
}

// Store persists the set of outstanding notifications keyed by chat
// message id, atomically, so a daemon restart can resume reconciling
// in-flight prompts instead of leaving them stuck.
type Store struct {
	mu    sync.Mutex
	path  string
	dirty bool
	byMsg map[int]Entry
}

// NewStore returns a store backed by path; call Load to populate it.
func NewStore(path string) *Store {
	return &Store{path: path, byMsg: make(map[int]Entry)}
}

// Load reads the persisted state, if any. A missing file leaves the store
// empty, matching the Python original's read_state "missing means {}".
func (s *Store) Load() error {
	var persisted map[int]Entry
	if err := store.Load(s.path, &persisted); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if persisted == nil {
		persisted = make(map[int]Entry)
	}
	s.byMsg = persisted
	return nil
}

// Save persists the state if it has changed since the last Save.
func (s *Store) Save() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := make(map[int]Entry, len(s.byMsg))
	for k, v := range s.byMsg {
		snapshot[k] = v
	}
	s.dirty = false
	s.mu.Unlock()
	return store.Save(s.path, snapshot)
}

// Set records or replaces the entry for messageID.
func (s *Store) Set(messageID int, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMsg[messageID] = e
	s.dirty = true
}

// Get returns the entry for messageID, if any.
func (s *Store) Get(messageID int) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byMsg[messageID]
	return e, ok
}

// MarkHandled flips an entry's Handled flag in place (used for the "slow
// response" expire-in-place branch, which keeps the message visible but
// stops it from being reconciled again).
func (s *Store) MarkHandled(messageID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byMsg[messageID]
	if !ok {
		return
	}
	e.Handled = true
	s.byMsg[messageID] = e
	s.dirty = true
}

// MarkSuperseded flips an entry's Superseded flag in place (used for the
// "slow" idle-supersession branch, which keeps the message visible but
// marked rather than deleting it outright).
func (s *Store) MarkSuperseded(messageID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byMsg[messageID]
	if !ok {
		return
	}
	e.Superseded = true
	s.byMsg[messageID] = e
	s.dirty = true
}

// Delete removes an entry entirely (used once a notification's chat
// message has been deleted, or its pane no longer exists; expired entries
// are kept and marked handled instead).
func (s *Store) Delete(messageID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byMsg[messageID]; ok {
		delete(s.byMsg, messageID)
		s.dirty = true
	}
}

// All returns a snapshot of every outstanding entry.
func (s *Store) All() map[int]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]Entry, len(s.byMsg))
	for k, v := range s.byMsg {
		out[k] = v
	}
	return out
}

// ForPane returns every non-handled entry whose Pane matches pane, for the
// expire-superseded-buttons sweep.
func (s *Store) ForPane(pane string) map[int]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]Entry)
	for id, e := range s.byMsg {
		if e.Pane == pane && !e.Handled {
			out[id] = e
		}
	}
	return out
}
