package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolPermissionText_Bash(t *testing.T) {
	text := ToolPermissionText("/home/alice", "Bash", map[string]interface{}{
		"command":     "rm -rf build",
		"description": "clean the build directory",
	})
	assert.Contains(t, text, "```bash\nrm -rf build\n```")
	assert.Contains(t, text, "_clean the build directory_")
}

func TestToolPermissionText_Read(t *testing.T) {
	text := ToolPermissionText("/home/alice", "Read", map[string]interface{}{
		"file_path": "/home/alice/project/main.go",
	})
	assert.Equal(t, "Claude is asking permission to read `project/main.go`", text)
}

func TestToolPermissionText_Edit(t *testing.T) {
	text := ToolPermissionText("/home/alice", "Edit", map[string]interface{}{
		"file_path":  "/home/alice/project/main.go",
		"old_string": "foo",
		"new_string": "bar",
	})
	assert.Contains(t, text, "```diff")
	assert.Contains(t, text, "-foo")
	assert.Contains(t, text, "+bar")
}

func TestToolPermissionText_UnknownToolFallsBackToJSON(t *testing.T) {
	text := ToolPermissionText("/home/alice", "WebFetch", map[string]interface{}{"url": "https://example.com"})
	assert.Contains(t, text, "Claude is asking permission to use WebFetch")
	assert.Contains(t, text, `"url": "https://example.com"`)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, "\\_hi\\_ \\*bold\\* \\[x\\]", EscapeMarkdown("_hi_ *bold* [x]"))
	assert.Equal(t, "\\`\\`\\`fence\\`\\`\\`", EscapeMarkdown("```fence```"))
}

func TestSplitMessage_ShortPassesThrough(t *testing.T) {
	parts := SplitMessage("hello")
	assert.Equal(t, []string{"hello"}, parts)
}

func TestSplitMessage_LongSplitsWithPrefixesAndRecoversOriginal(t *testing.T) {
	body := strings.Repeat("line of agent output\n", 400)
	parts := SplitMessage(body)
	assert.Greater(t, len(parts), 1)

	var rejoined strings.Builder
	for i, p := range parts {
		assert.Contains(t, p, "("+itoa(i+1)+"/"+itoa(len(parts))+")")
		rejoined.WriteString(strings.SplitN(p, "\n", 2)[1])
	}
	assert.Equal(t, body, rejoined.String())
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}
