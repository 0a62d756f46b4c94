package poller

import (
	"context"
	"testing"

	"github.com/cabridge/cabridge/internal/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendToPane_ClearsTypesAndSubmits(t *testing.T) {
	driver := mux.NewFakeDriver()
	pane, err := driver.NewSession(context.Background(), "ca-a", "/repo")
	require.NoError(t, err)

	ok := SendToPane(context.Background(), driver, pane, "hello")
	assert.True(t, ok)
	assert.Equal(t, []string{"key:C-u", "lit:hello", "key:Enter"}, driver.Sent(pane))
}

func TestSendTextToPermissionPrompt_OpensTextSlotThenTypes(t *testing.T) {
	driver := mux.NewFakeDriver()
	pane, err := driver.NewSession(context.Background(), "ca-a", "/repo")
	require.NoError(t, err)

	ok := SendTextToPermissionPrompt(context.Background(), driver, pane, "use bash instead")
	assert.True(t, ok)
	assert.Equal(t, []string{"key:C-u", "key:Down", "key:Down", "key:Enter", "lit:use bash instead", "key:Enter"}, driver.Sent(pane))
}

func TestSendPermissionResponse_ThreeBranches(t *testing.T) {
	driver := mux.NewFakeDriver()

	pane, _ := driver.NewSession(context.Background(), "ca-y", "/repo")
	SendPermissionResponse(context.Background(), driver, pane, "y")
	assert.Equal(t, []string{"key:Enter"}, driver.Sent(pane))

	pane, _ = driver.NewSession(context.Background(), "ca-a", "/repo")
	SendPermissionResponse(context.Background(), driver, pane, "a")
	assert.Equal(t, []string{"key:Down", "key:Enter"}, driver.Sent(pane))

	pane, _ = driver.NewSession(context.Background(), "ca-n", "/repo")
	SendPermissionResponse(context.Background(), driver, pane, "n")
	assert.Equal(t, []string{"key:Down", "key:Down", "key:Enter"}, driver.Sent(pane))
}

func TestSendToPane_FailsWhenPaneDead(t *testing.T) {
	driver := mux.NewFakeDriver()
	ok := SendToPane(context.Background(), driver, "ca-nope:0.0", "hi")
	assert.False(t, ok)
}

func TestActionLabel(t *testing.T) {
	assert.Equal(t, "✓ Allowed", ActionLabel("y", "Bash"))
	assert.Equal(t, "✓ Always", ActionLabel("a", "Bash"))
	assert.Equal(t, "❌ Denied", ActionLabel("n", "Bash"))
	assert.Equal(t, "⏰ Expired", ActionLabel("whatever", ""))
}
