package watch

import (
	"bufio"
	"encoding/json"
	"os"
)

// ToolHasResult does a fresh scan of transcriptPath for a tool_result
// matching toolID, independent of any attached Watcher's in-memory state —
// grounded on telegram_poller.py's tool_already_handled, used by the
// poller to detect a permission prompt the user already resolved directly
// in the TUI before the chat button was pressed.
func ToolHasResult(transcriptPath, toolID string) bool {
	if transcriptPath == "" || toolID == "" {
		return false
	}
	f, err := os.Open(transcriptPath)
	if err != nil {
		return false
	}
	defer f.Close()

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
			if id, _ := c["tool_use_id"].(string); id == toolID {
				return true
			}
		}
	}
	return false
}

// PendingToolID scans transcriptPath for a tool_use that has no matching
// tool_result anywhere else in the file, returning one arbitrarily if
// several are pending — grounded on telegram_poller.py's
// get_pending_tool_from_transcript, used to decide whether a text reply
// should be routed to the open permission prompt or injected as plain
// pane input.
func PendingToolID(transcriptPath string) (string, bool) {
	if transcriptPath == "" {
		return "", false
	}
	f, err := os.Open(transcriptPath)
	if err != nil {
		return "", false
	}
	defer f.Close()

	uses := make(map[string]bool)
	results := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		var entry transcriptEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		switch entry.Type {
		case "assistant":
			for _, c := range entry.Message.Content {
				if c["type"] != "tool_use" {
					continue
				}
				if id, _ := c["id"].(string); id != "" {
					uses[id] = true
				}
			}
		case "user":
			for _, c := range entry.Message.Content {
				if c["type"] != "tool_result" {
					continue
				}
				if id, _ := c["tool_use_id"].(string); id != "" {
					results[id] = true
				}
			}
		}
	}

	for id := range uses {
		if !results[id] {
			return id, true
		}
	}
	return "", false
}
