package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorktreePath_JoinsRepoBaseAndSanitizedTaskName(t *testing.T) {
	got := WorktreePath("/repo", "trees", "feature/login")
	assert.Equal(t, filepath.Join("/repo", "trees", "feature-login"), got)
}

func TestCreateWorktree_FailsWhenAlreadyExists(t *testing.T) {
	repoDir := t.TempDir()
	existing := WorktreePath(repoDir, "trees", "taken")
	require.NoError(t, os.MkdirAll(existing, 0o755))

	_, err := CreateWorktree(context.Background(), newFakeGit(), repoDir, "trees", "taken")
	assert.Error(t, err)
}

func TestCreateWorktree_PropagatesSetupHookFailure(t *testing.T) {
	repoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, SetupHookName), []byte("#!/bin/bash\nexit 1\n"), 0o755))
	git := newFakeGit()
	git.failHook = true

	_, err := CreateWorktree(context.Background(), git, repoDir, "trees", "bad-hook")
	assert.Error(t, err)
	assert.Len(t, git.hookRuns, 1)
}

func TestCreateWorktree_SkipsHookWhenAbsent(t *testing.T) {
	repoDir := t.TempDir()
	git := newFakeGit()

	_, err := CreateWorktree(context.Background(), git, repoDir, "trees", "no-hook")
	require.NoError(t, err)
	assert.Empty(t, git.hookRuns)
}

func TestRemoveWorktree_NoOpWhenMissing(t *testing.T) {
	repoDir := t.TempDir()
	git := newFakeGit()
	require.NoError(t, RemoveWorktree(context.Background(), git, repoDir, "trees", "never-existed"))
	assert.Empty(t, git.removed)
}
