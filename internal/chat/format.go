package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// EscapeMarkdown escapes the Telegram markdown special characters in plain
// text that's going to be embedded outside a code fence. Triple backticks
// are neutralized so stray ``` in user/tool text can never open or close an
// unintended code block.
func EscapeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "```", "\\`\\`\\`")
	for _, ch := range []string{"_", "*", "[", "]"} {
		text = strings.ReplaceAll(text, ch, "\\"+ch)
	}
	return text
}

// neutralizeFences replaces triple backticks inside content that's itself
// going to be wrapped in a code fence, so the content can never prematurely
// close the fence it's embedded in.
func neutralizeFences(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

// StripHome removes a leading home-directory prefix from a path, the way
// every permission-prompt formatter does before showing a path to the
// user.
func StripHome(home, path string) string {
	prefix := strings.TrimRight(home, "/") + "/"
	return strings.TrimPrefix(path, prefix)
}

// ToolPermissionText renders the chat message body for a pending
// permission-prompt notification, per tool kind. Grounded on the
// per-tool-kind branches of format_tool_permission: Bash gets a fenced
// command plus an optional italic description; Edit gets a unified diff in
// a ```diff fence; Write gets the full new content in a fence; Read is a
// one-liner; AskUserQuestion renders bolded questions with bulleted
// options; anything else falls back to a JSON dump of the tool input.
func ToolPermissionText(home, toolName string, toolInput map[string]interface{}) string {
	switch toolName {
	case "Bash":
		cmd := neutralizeFences(str(toolInput["command"]))
		desc := str(toolInput["description"])
		descLine := ""
		if desc != "" {
			descLine = "\n\n_" + EscapeMarkdown(desc) + "_"
		}
		return fmt.Sprintf("Claude is asking permission to run:\n\n```bash\n%s\n```%s", cmd, descLine)

	case "Edit":
		fp := StripHome(home, str(toolInput["file_path"]))
		old := str(toolInput["old_string"])
		newS := str(toolInput["new_string"])
		diff := unifiedDiff(old, newS, fp)
		diff = neutralizeFences(diff)
		return fmt.Sprintf("Claude is asking permission to edit `%s`:\n\n```diff\n%s\n```", fp, diff)

	case "Write":
		fp := StripHome(home, str(toolInput["file_path"]))
		content := neutralizeFences(str(toolInput["content"]))
		return fmt.Sprintf("Claude is asking permission to write `%s`:\n\n```\n%s\n```", fp, content)

	case "Read":
		fp := StripHome(home, str(toolInput["file_path"]))
		return fmt.Sprintf("Claude is asking permission to read `%s`", fp)

	case "AskUserQuestion":
		return formatAskUserQuestion(toolInput)

	default:
		data, _ := json.MarshalIndent(toolInput, "", "  ")
		return fmt.Sprintf("Claude is asking permission to use %s:\n\n```\n%s\n```", toolName, neutralizeFences(string(data)))
	}
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func unifiedDiff(old, new, filePath string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(old),
		B:        difflib.SplitLines(new),
		FromFile: filePath,
		ToFile:   filePath,
		Context:  9999,
	}
	out, _ := difflib.GetUnifiedDiffString(diff)
	return strings.TrimRight(out, "\n")
}

func formatAskUserQuestion(toolInput map[string]interface{}) string {
	var b strings.Builder
	b.WriteString("Claude is asking:\n")
	questions, _ := toolInput["questions"].([]interface{})
	for _, qv := range questions {
		q, _ := qv.(map[string]interface{})
		question := EscapeMarkdown(str(q["question"]))
		// escape_markdown leaves underscores escaped for question text but
		// the original re-unescapes '_' specifically (titles commonly use
		// it) -- mirrored here.
		question = strings.ReplaceAll(question, "\\_", "_")
		b.WriteString("\n*" + question + "*\n")
		options, _ := q["options"].([]interface{})
		for _, ov := range options {
			opt, _ := ov.(map[string]interface{})
			label := EscapeMarkdown(str(opt["label"]))
			b.WriteString("• " + label + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

const maxMessageLength = 4096

// SplitMessage breaks text into chat-size-limited parts, prefixing each
// with "(i/N)" when more than one part is needed, and is careful about
// code fences: a fence left open at a split point is closed before the
// split and reopened with the same language tag at the start of the next
// part, so concatenating the parts (after stripping the prefixes and
// rejoining the fences) recovers the original text byte-for-byte (§8).
func SplitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}

	var rawParts []string
	remaining := text
	for len(remaining) > maxMessageLength {
		cut := maxMessageLength
		if idx := strings.LastIndexByte(remaining[:cut], '\n'); idx > 0 {
			cut = idx + 1
		}
		rawParts = append(rawParts, remaining[:cut])
		remaining = remaining[cut:]
	}
	if remaining != "" {
		rawParts = append(rawParts, remaining)
	}

	n := len(rawParts)
	parts := make([]string, 0, n)
	openFence := ""
	inFence := false
	for i, part := range rawParts {
		body := part
		if inFence {
			body = "```" + openFence + "\n" + body
		}
		lang, stillOpen := fenceStateAfter(inFence, openFence, part)
		if stillOpen {
			body = strings.TrimRight(body, "\n") + "\n```"
		}
		openFence, inFence = lang, stillOpen

		prefix := fmt.Sprintf("(%d/%d)\n", i+1, n)
		parts = append(parts, prefix+body)
	}
	return parts
}

// fenceStateAfter scans part for ``` fence toggles, starting from inFence
// (whether this part begins inside a fence) and openFence (that fence's
// language tag, possibly "" for a bare fence). It returns the language tag
// of the fence we end the part still inside (or "" if closed) and whether
// a synthetic closing fence needs to be appended to this part.
func fenceStateAfter(inFence bool, openFence, part string) (lang string, stillOpen bool) {
	lang = openFence
	for _, line := range strings.Split(part, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				inFence = false
				lang = ""
			} else {
				inFence = true
				lang = strings.TrimPrefix(trimmed, "```")
			}
		}
	}
	return lang, inFence
}
