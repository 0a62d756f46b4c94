package watch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"time"
)

// transcriptEntry is the minimal shape of one JSONL transcript line that
// the watcher cares about; unrecognized fields are ignored.
type transcriptEntry struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	CompactMetadata struct {
		Trigger   string `json:"trigger"`
		PreTokens int    `json:"preTokens"`
	} `json:"compactMetadata"`

	Message struct {
		ID      string                   `json:"id"`
		Content []map[string]interface{} `json:"content"`
	} `json:"message"`
}

// Watcher tails a single transcript file, tracking which tool_use entries
// have been notified, which have results, and which assistant turns were
// idle (text-only) — state that mirrors TranscriptWatcher in the Python
// original, translated into Go idiom.
type Watcher struct {
	Path string
	Pane string
	CWD  string

	position int64

	notifiedTools map[string]bool
	toolResults   map[string]bool
	pendingTools  map[string]PendingTool
	toolQueue     []string // ordered tool ids, for batched tool_use messages

	toolUseMsgIDs map[string]bool
	lastIdleMsgID string

	compactions []CompactionEvent
	idleEvents  []IdleEvent
}

// NewWatcher returns a watcher for path, starting at startPosition (pass
// the file's current size to watch only new content going forward).
func NewWatcher(path, pane, cwd string, startPosition int64) *Watcher {
	return &Watcher{
		Path:          path,
		Pane:          pane,
		CWD:           cwd,
		position:      startPosition,
		notifiedTools: make(map[string]bool),
		toolResults:   make(map[string]bool),
		pendingTools:  make(map[string]PendingTool),
		toolUseMsgIDs: make(map[string]bool),
	}
}

// HasResult reports whether toolID has a recorded tool_result — used by
// the notification orchestrator to detect a completed tool independent of
// the head-of-line notify queue.
func (w *Watcher) HasResult(toolID string) bool {
	return w.toolResults[toolID]
}

// HasToolUseForMessage reports whether msgID (an assistant message id) was
// ever seen carrying a tool_use — used to detect an idle notification that
// was superseded by Claude actually calling a tool.
func (w *Watcher) HasToolUseForMessage(msgID string) bool {
	return w.toolUseMsgIDs[msgID]
}

// SeedToolResults marks tool ids as already resolved without having seen
// their originating tool_use — used when attaching a watcher to a
// transcript that's already partway through (SPEC_FULL.md §4.1's
// add_from_state equivalent), so stale pending notifications expire
// instead of firing again.
func (w *Watcher) SeedToolResults(ids []string) {
	for _, id := range ids {
		w.toolResults[id] = true
	}
}

// scanCompleteLines is bufio.ScanLines minus its at-EOF behavior of handing
// back a final, newline-less token. A transcript line still mid-write has
// no trailing "\n" yet; treating it as a complete token would advance the
// watcher's offset past a line processLine couldn't even parse. Holding it
// back means the next tick re-reads from the same offset once the writer
// finishes the line (spec's partial-write-at-EOF contract).
func scanCompleteLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	// No newline yet, complete or not: request more data rather than
	// returning the trailing partial line as a token.
	return 0, nil, nil
}

// Check reads any new transcript lines, updates internal state, and
// returns at most one ready-to-notify tool (head-of-line blocking: a
// later tool never jumps the queue ahead of an earlier tool still
// awaiting its result), any compaction/idle events seen this tick, and
// whether any new content was read at all (drives the "typing…"
// indicator independent of whether it produced a notification).
func (w *Watcher) Check() (ready []PendingTool, compactions []CompactionEvent, idle []IdleEvent, hadActivity bool) {
	f, err := os.Open(w.Path)
	if err != nil {
		return nil, nil, nil, false
	}
	defer f.Close()

	if _, err := f.Seek(w.position, io.SeekStart); err != nil {
		return nil, nil, nil, false
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	scanner.Split(scanCompleteLines)
	lastFullLineEnd := w.position
	offset := w.position
	for scanner.Scan() {
		line := scanner.Bytes()
		offset += int64(len(line)) + 1 // +1 for the newline the scanner strips
		w.processLine(line)
		hadActivity = true
		lastFullLineEnd = offset
	}
	w.position = lastFullLineEnd

	compactions = w.compactions
	w.compactions = nil
	idle = w.idleEvents
	w.idleEvents = nil

	w.pruneCompleted()
	ready = w.nextReady()

	return ready, compactions, idle, hadActivity
}

func (w *Watcher) pruneCompleted() {
	kept := w.toolQueue[:0]
	for _, id := range w.toolQueue {
		if !w.toolResults[id] {
			kept = append(kept, id)
		}
	}
	w.toolQueue = kept

	for id := range w.pendingTools {
		if w.toolResults[id] {
			delete(w.pendingTools, id)
		}
	}
	for id := range w.notifiedTools {
		if w.toolResults[id] {
			delete(w.notifiedTools, id)
		}
	}
}

// nextReady returns the single earliest tool_id in the queue that is past
// notifyDelay and not already notified, blocking on any earlier tool still
// awaiting its result — the head-of-line rule from SPEC_FULL.md §4.1.
func (w *Watcher) nextReady() []PendingTool {
	now := time.Now()
	for _, id := range w.toolQueue {
		if w.toolResults[id] {
			continue
		}
		if w.notifiedTools[id] {
			// Already notified and still unresolved: block the whole queue.
			return nil
		}
		tool, ok := w.pendingTools[id]
		if !ok {
			continue
		}
		if now.Sub(tool.DetectedAt) > notifyDelay {
			w.notifiedTools[id] = true
			delete(w.pendingTools, id)
			return []PendingTool{tool}
		}
		// Not yet past the delay window; nothing later can jump ahead of it.
		return nil
	}
	return nil
}

func (w *Watcher) processLine(line []byte) (active bool) {
	var entry transcriptEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return false // partial or malformed line
	}

	if entry.Type == "system" && entry.Subtype == "compact_boundary" {
		w.compactions = append(w.compactions, CompactionEvent{
			Trigger:   firstNonEmpty(entry.CompactMetadata.Trigger, "unknown"),
			PreTokens: entry.CompactMetadata.PreTokens,
			Pane:      w.Pane,
			CWD:       w.CWD,
		})
		return false
	}

	if entry.Type == "user" {
		for _, c := range entry.Message.Content {
			if c["type"] != "tool_result" {
				continue
			}
			id, _ := c["tool_use_id"].(string)
			if id == "" {
				continue
			}
			w.toolResults[id] = true
			delete(w.notifiedTools, id)
			delete(w.pendingTools, id)
		}
		return false
	}

	if entry.Type != "assistant" {
		return false
	}
	return w.processAssistant(entry)
}

func (w *Watcher) processAssistant(entry transcriptEntry) bool {
	msgID := entry.Message.ID
	var assistantText string
	var toolCalls []map[string]interface{}
	hasThinking := false

	for _, c := range entry.Message.Content {
		switch c["type"] {
		case "text":
			assistantText, _ = c["text"].(string)
		case "tool_use":
			toolCalls = append(toolCalls, c)
		case "thinking":
			hasThinking = true
		}
	}

	if hasThinking && len(toolCalls) == 0 && assistantText == "" {
		return true
	}

	if len(toolCalls) > 0 && msgID != "" {
		w.toolUseMsgIDs[msgID] = true
		if w.lastIdleMsgID == msgID {
			w.lastIdleMsgID = ""
		}
	}

	if assistantText != "" && len(toolCalls) == 0 && msgID != "" {
		if msgID == w.lastIdleMsgID {
			return false
		}
		w.idleEvents = append(w.idleEvents, IdleEvent{
			Text:           assistantText,
			Pane:           w.Pane,
			CWD:            w.CWD,
			TranscriptPath: w.Path,
			MsgID:          msgID,
		})
		w.lastIdleMsgID = msgID
		return true
	}

	if len(toolCalls) == 0 {
		return false
	}

	now := time.Now()
	for _, tc := range toolCalls {
		id, _ := tc["id"].(string)
		name, _ := tc["name"].(string)

		if skipTools[name] {
			continue
		}
		if w.notifiedTools[id] || w.toolResults[id] {
			continue
		}
		if _, pending := w.pendingTools[id]; pending {
			continue
		}

		input, _ := tc["input"].(map[string]interface{})
		w.toolQueue = append(w.toolQueue, id)
		w.pendingTools[id] = PendingTool{
			ToolID:         id,
			ToolName:       name,
			ToolInput:      input,
			AssistantText:  assistantText,
			TranscriptPath: w.Path,
			Pane:           w.Pane,
			CWD:            w.CWD,
			DetectedAt:     now,
		}
	}

	return true
}

func firstNonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
