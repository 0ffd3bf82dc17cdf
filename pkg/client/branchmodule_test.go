package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgb-bot/kgb/pkg/commit"
)

func rulesFor(t *testing.T, swap bool, patterns ...string) *PathRules {
	t.Helper()
	r, err := CompileBranchModuleRules(patterns, swap)
	require.NoError(t, err)
	return r
}

func branchCommit(t *testing.T, paths ...string) *commit.Commit {
	t.Helper()
	changes := make([]commit.Change, 0, len(paths))
	for _, p := range paths {
		changes = append(changes, commit.Change{Action: commit.ActionModify, Path: p})
	}
	cm, err := commit.New("1", "alice", "log", changes)
	require.NoError(t, err)
	return cm
}

func TestCompileRejectsWrongGroupCount(t *testing.T) {
	_, err := CompileBranchModuleRules([]string{`^branches/([^/]+)/`}, false)
	assert.Error(t, err)

	_, err = CompileBranchModuleRules([]string{`^(a)/(b)/(c)/`}, false)
	assert.Error(t, err)
}

func TestCompileRejectsBadPattern(t *testing.T) {
	_, err := CompileBranchModuleRules([]string{`([`}, false)
	assert.Error(t, err)
}

func TestApplyExtractsBranchAndModule(t *testing.T) {
	cm := branchCommit(t, "branches/stable/core/file.c", "branches/stable/core/util.c")
	matched := rulesFor(t, false, `^branches/([^/]+)/([^/]+)/`).Apply(cm)

	require.True(t, matched)
	assert.Equal(t, "stable", cm.Branch)
	assert.Equal(t, "core", cm.Module)
	assert.Equal(t, "file.c", cm.Changes[0].Path)
	assert.Equal(t, "util.c", cm.Changes[1].Path)
}

func TestApplySwapExchangesCaptures(t *testing.T) {
	cm := branchCommit(t, "core/stable/file.c")
	matched := rulesFor(t, true, `^([^/]+)/([^/]+)/`).Apply(cm)

	require.True(t, matched)
	assert.Equal(t, "stable", cm.Branch)
	assert.Equal(t, "core", cm.Module)
}

func TestApplyFirstMatchingRuleWins(t *testing.T) {
	cm := branchCommit(t, "trunk/core/file.c")
	r := rulesFor(t, false,
		`^branches/([^/]+)/([^/]+)/`,
		`^(trunk)/([^/]+)/`)

	require.True(t, r.Apply(cm))
	assert.Equal(t, "trunk", cm.Branch)
	assert.Equal(t, "core", cm.Module)
	assert.Equal(t, "file.c", cm.Changes[0].Path)
}

func TestApplyOnlyMatchesPathPrefix(t *testing.T) {
	cm := branchCommit(t, "src/branches/stable/core/file.c")
	matched := rulesFor(t, false, `^branches/([^/]+)/([^/]+)/`).Apply(cm)

	assert.False(t, matched)
	assert.Empty(t, cm.Branch)
	assert.Equal(t, "src/branches/stable/core/file.c", cm.Changes[0].Path)
}

func TestApplyStripsPrefixOnlyWherePresent(t *testing.T) {
	cm := branchCommit(t, "branches/stable/core/file.c", "tags/1.0")
	require.True(t, rulesFor(t, false, `^branches/([^/]+)/([^/]+)/`).Apply(cm))

	assert.Equal(t, "file.c", cm.Changes[0].Path)
	assert.Equal(t, "tags/1.0", cm.Changes[1].Path)
}
