package git

import (
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgb-bot/kgb/pkg/commit"
)

var zeroRev = plumbing.ZeroHash.String()

type testRepo struct {
	t    *testing.T
	repo *gogit.Repository
	wt   *gogit.Worktree
	when time.Time
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	repo, err := gogit.Init(memory.NewStorage(), memfs.New())
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	return &testRepo{
		t:    t,
		repo: repo,
		wt:   wt,
		when: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (r *testRepo) write(name, content string) {
	r.t.Helper()
	require.NoError(r.t, util.WriteFile(r.wt.Filesystem, name, []byte(content), 0o644))
	_, err := r.wt.Add(name)
	require.NoError(r.t, err)
}

func (r *testRepo) remove(name string) {
	r.t.Helper()
	_, err := r.wt.Remove(name)
	require.NoError(r.t, err)
}

// commit commits the staged changes with strictly increasing timestamps
// so chronological ordering is unambiguous.
func (r *testRepo) commit(msg string) plumbing.Hash {
	r.t.Helper()
	r.when = r.when.Add(time.Minute)
	h, err := r.wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "Alice Example",
			Email: "alice@example.org",
			When:  r.when,
		},
	})
	require.NoError(r.t, err)
	return h
}

func (r *testRepo) checkoutNew(branch string) {
	r.t.Helper()
	require.NoError(r.t, r.wt.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: true,
	}))
}

func (r *testRepo) setRef(name string, h plumbing.Hash) {
	r.t.Helper()
	ref := plumbing.NewHashReference(plumbing.ReferenceName(name), h)
	require.NoError(r.t, r.repo.Storer.SetReference(ref))
}

func TestBranchUpdateListsCommitsOldestFirst(t *testing.T) {
	r := newTestRepo(t)
	r.write("a.txt", "one\n")
	c1 := r.commit("add a")
	r.write("b.txt", "two\n")
	c2 := r.commit("add b")
	r.write("a.txt", "one more\n")
	r.remove("b.txt")
	c3 := r.commit("rework a, drop b")

	commits, err := NewDriver(r.repo).CommitsForUpdate(c1.String(), c3.String(), "refs/heads/master")
	require.NoError(t, err)
	require.Len(t, commits, 2)

	assert.Equal(t, c2.String()[:7], commits[0].ID)
	assert.Equal(t, "alice", commits[0].Author)
	assert.Equal(t, "add b", commits[0].Log)
	assert.Equal(t, "master", commits[0].Branch)
	assert.Equal(t, []commit.Change{
		{Action: commit.ActionAdd, Path: "b.txt"},
	}, commits[0].Changes)

	assert.Equal(t, c3.String()[:7], commits[1].ID)
	assert.ElementsMatch(t, []commit.Change{
		{Action: commit.ActionModify, Path: "a.txt"},
		{Action: commit.ActionDelete, Path: "b.txt"},
	}, commits[1].Changes)
}

func TestBranchCreationEmitsSyntheticCommitThenNewHistory(t *testing.T) {
	r := newTestRepo(t)
	r.write("file", "base\n")
	r.commit("base")
	r.checkoutNew("other")
	r.write("extra", "new\n")
	c2 := r.commit("work on other")

	commits, err := NewDriver(r.repo).CommitsForUpdate(zeroRev, c2.String(), "refs/heads/other")
	require.NoError(t, err)
	require.Len(t, commits, 2)

	assert.Equal(t, "branch created", commits[0].Log)
	assert.Equal(t, "other", commits[0].Branch)
	assert.Empty(t, commits[0].Changes)

	assert.Equal(t, c2.String()[:7], commits[1].ID)
	assert.Equal(t, "work on other", commits[1].Log)
	assert.Equal(t, "other", commits[1].Branch)
	assert.Equal(t, []commit.Change{
		{Action: commit.ActionAdd, Path: "extra"},
	}, commits[1].Changes)
}

func TestBranchCreationAtKnownCommitIsSyntheticOnly(t *testing.T) {
	r := newTestRepo(t)
	r.write("file", "base\n")
	c1 := r.commit("base")
	r.setRef("refs/heads/feature", c1)

	commits, err := NewDriver(r.repo).CommitsForUpdate(zeroRev, c1.String(), "refs/heads/feature")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "branch created", commits[0].Log)
	assert.Equal(t, "feature", commits[0].Branch)
	assert.Empty(t, commits[0].Changes)
}

func TestRootCommitDiffsAgainstEmptyTree(t *testing.T) {
	r := newTestRepo(t)
	r.write("a.txt", "one\n")
	c1 := r.commit("add a")

	commits, err := NewDriver(r.repo).CommitsForUpdate(zeroRev, c1.String(), "refs/heads/master")
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "branch created", commits[0].Log)
	assert.Equal(t, []commit.Change{
		{Action: commit.ActionAdd, Path: "a.txt"},
	}, commits[1].Changes)
}

func TestAnnotatedTag(t *testing.T) {
	r := newTestRepo(t)
	r.write("file", "v1\n")
	c1 := r.commit("release prep")

	ref, err := r.repo.CreateTag("1.0-release", c1, &gogit.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "Alice Example",
			Email: "alice@example.org",
			When:  r.when.Add(time.Minute),
		},
		Message: "Release 1.0",
	})
	require.NoError(t, err)

	commits, err := NewDriver(r.repo).CommitsForUpdate(zeroRev, ref.Hash().String(), "refs/tags/1.0-release")
	require.NoError(t, err)
	require.Len(t, commits, 1)

	got := commits[0]
	assert.Equal(t, "tags", got.Branch)
	assert.Equal(t, "alice", got.Author)
	assert.Equal(t, []commit.Change{
		{Action: commit.ActionAdd, Path: "1.0-release"},
	}, got.Changes)
	assert.Equal(t, "Release 1.0\ntagged commit: "+c1.String()[:7], got.Log)
}

func TestLightweightTag(t *testing.T) {
	r := newTestRepo(t)
	r.write("file", "v2\n")
	c1 := r.commit("more work")
	r.setRef("refs/tags/v2", c1)

	commits, err := NewDriver(r.repo).CommitsForUpdate(zeroRev, c1.String(), "refs/tags/v2")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "tags", commits[0].Branch)
	assert.Equal(t, "tagged commit: "+c1.String()[:7], commits[0].Log)
	assert.Equal(t, []commit.Change{
		{Action: commit.ActionAdd, Path: "v2"},
	}, commits[0].Changes)
}

func TestRefDeletionAnnouncesNothing(t *testing.T) {
	r := newTestRepo(t)
	r.write("file", "x\n")
	c1 := r.commit("add file")

	commits, err := NewDriver(r.repo).CommitsForUpdate(c1.String(), zeroRev, "refs/heads/master")
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestUnhandledRefIgnored(t *testing.T) {
	r := newTestRepo(t)
	r.write("file", "x\n")
	c1 := r.commit("add file")

	commits, err := NewDriver(r.repo).CommitsForUpdate(zeroRev, c1.String(), "refs/notes/commits")
	require.NoError(t, err)
	assert.Empty(t, commits)
}
