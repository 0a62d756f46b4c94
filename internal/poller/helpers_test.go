package poller

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeRouterTranscript(t *testing.T, lines ...map[string]interface{}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		b, err := json.Marshal(l)
		require.NoError(t, err)
		_, err = f.Write(append(b, '\n'))
		require.NoError(t, err)
	}
	return path
}

func toolUseRouterEntry(msgID, toolID, toolName string) map[string]interface{} {
	return map[string]interface{}{
		"type": "assistant",
		"message": map[string]interface{}{
			"id": msgID,
			"content": []map[string]interface{}{
				{"type": "tool_use", "id": toolID, "name": toolName, "input": map[string]interface{}{}},
			},
		},
	}
}
