package mux

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeDriver_NewSessionAndSend(t *testing.T) {
	ctx := context.Background()
	d := NewFakeDriver()

	pane, err := d.NewSession(ctx, "ca-fix-typo", "/repo/trees/fix-typo")
	require.NoError(t, err)
	assert.True(t, d.HasSession(ctx, "ca-fix-typo"))

	require.NoError(t, d.SendKey(ctx, pane, "C-u"))
	require.NoError(t, d.SendLiteral(ctx, pane, "hello"))
	require.NoError(t, d.SendKey(ctx, pane, "Enter"))

	assert.Equal(t, []string{"key:C-u", "lit:hello", "key:Enter"}, d.Sent(pane))
}

func TestFakeDriver_ListPanesByCWD(t *testing.T) {
	ctx := context.Background()
	d := NewFakeDriver()

	_, err := d.NewSession(ctx, "ca-a", "/repo/trees/a")
	require.NoError(t, err)
	_, err = d.NewSession(ctx, "ca-b", "/repo/trees/b")
	require.NoError(t, err)

	panes, err := d.ListPanes(ctx, true, "")
	require.NoError(t, err)
	require.Len(t, panes, 2)

	p, ok := FindPaneByCWD(panes, "/repo/trees/b")
	require.True(t, ok)
	assert.Equal(t, "ca-b:0.0", p.ID)

	_, ok = FindPaneByCWD(panes, "/nope")
	assert.False(t, ok)
}

func TestFakeDriver_KillSessionRemovesPane(t *testing.T) {
	ctx := context.Background()
	d := NewFakeDriver()

	_, err := d.NewSession(ctx, "ca-x", "/repo/trees/x")
	require.NoError(t, err)
	require.NoError(t, d.KillSession(ctx, "ca-x"))
	assert.False(t, d.HasSession(ctx, "ca-x"))
}
