// Package git extracts the commits behind one ref update, the way a
// post-receive hook sees it: "old new refname" per updated ref.
package git

import (
	"fmt"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/revlist"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/kgb-bot/kgb/pkg/commit"
)

const (
	branchPrefix = "refs/heads/"
	tagPrefix    = "refs/tags/"

	// tagsBranch is the pseudo-branch label tag announcements carry.
	tagsBranch = "tags"

	shortHashLen = 7
)

// Driver reads one repository. It is stateless between calls.
type Driver struct {
	repo *gogit.Repository
}

// Open opens the repository at path (either a work tree or a bare
// repository, as hooks run in both).
func Open(path string) (*Driver, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open git repository %s: %w", path, err)
	}
	return &Driver{repo: repo}, nil
}

// NewDriver wraps an already opened repository.
func NewDriver(repo *gogit.Repository) *Driver {
	return &Driver{repo: repo}
}

// CommitsForUpdate turns one post-receive ref update into the commits
// to announce, oldest first.
//
// A branch creation yields a synthetic "branch created" commit followed
// by the commits that are new to the repository (not reachable from any
// other branch). A branch update yields the commits in old..new. A tag
// yields a single entry on the pseudo-branch "tags".
func (d *Driver) CommitsForUpdate(oldRev, newRev, refName string) ([]*commit.Commit, error) {
	newHash := plumbing.NewHash(newRev)
	if newHash.IsZero() {
		// Ref deletion, nothing to announce.
		return nil, nil
	}

	switch {
	case strings.HasPrefix(refName, tagPrefix):
		return d.tagUpdate(strings.TrimPrefix(refName, tagPrefix), newHash)
	case strings.HasPrefix(refName, branchPrefix):
		return d.branchUpdate(strings.TrimPrefix(refName, branchPrefix),
			plumbing.NewHash(oldRev), newHash, refName)
	default:
		return nil, nil
	}
}

func (d *Driver) branchUpdate(branch string, oldHash, newHash plumbing.Hash, refName string) ([]*commit.Commit, error) {
	var out []*commit.Commit
	var ignore []plumbing.Hash

	if oldHash.IsZero() {
		// Branch creation: announce it even when it points at history
		// every other branch already has.
		head, err := d.repo.CommitObject(newHash)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", newHash, err)
		}
		out = append(out, &commit.Commit{
			ID:     shortHash(head.Hash),
			Author: shortLogin(head.Author),
			Log:    "branch created",
			Branch: branch,
		})
		ignore, err = d.otherBranchHeads(refName)
		if err != nil {
			return nil, err
		}
	} else {
		ignore = []plumbing.Hash{oldHash}
	}

	commits, err := d.newCommits(newHash, ignore)
	if err != nil {
		return nil, err
	}
	for _, c := range commits {
		cm, err := d.convert(c, branch)
		if err != nil {
			return nil, err
		}
		out = append(out, cm)
	}
	return out, nil
}

// tagUpdate announces a tag as a single pseudo-commit: the tag name
// added on branch "tags", with the annotation message (if any) followed
// by the tagged commit's short hash.
func (d *Driver) tagUpdate(name string, hash plumbing.Hash) ([]*commit.Commit, error) {
	var lines []string
	target := hash

	if tag, err := d.repo.TagObject(hash); err == nil {
		if msg := strings.TrimRight(tag.Message, "\n"); msg != "" {
			lines = append(lines, msg)
		}
		target = tag.Target
		tagged, err := d.repo.CommitObject(tag.Target)
		if err == nil {
			target = tagged.Hash
		}
	}
	lines = append(lines, "tagged commit: "+shortHash(target))

	author := object.Signature{}
	if c, err := d.repo.CommitObject(target); err == nil {
		author = c.Author
	}

	return []*commit.Commit{{
		ID:      shortHash(hash),
		Author:  shortLogin(author),
		Log:     strings.Join(lines, "\n"),
		Changes: []commit.Change{{Action: commit.ActionAdd, Path: name}},
		Branch:  tagsBranch,
	}}, nil
}

// newCommits lists the commits reachable from tip but from none of the
// ignore heads, oldest first.
func (d *Driver) newCommits(tip plumbing.Hash, ignore []plumbing.Hash) ([]*object.Commit, error) {
	hashes, err := revlist.Objects(d.repo.Storer, []plumbing.Hash{tip}, ignore)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", tip, err)
	}

	var commits []*object.Commit
	for _, h := range hashes {
		if c, err := d.repo.CommitObject(h); err == nil {
			commits = append(commits, c)
		}
	}
	sort.Slice(commits, func(i, j int) bool {
		return commits[i].Committer.When.Before(commits[j].Committer.When)
	})
	return commits, nil
}

// otherBranchHeads lists every branch head except the updated ref.
func (d *Driver) otherBranchHeads(refName string) ([]plumbing.Hash, error) {
	iter, err := d.repo.References()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var heads []plumbing.Hash
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if strings.HasPrefix(name, branchPrefix) && name != refName {
			heads = append(heads, ref.Hash())
		}
		return nil
	})
	return heads, err
}

// convert maps one git commit onto the wire model.
func (d *Driver) convert(c *object.Commit, branch string) (*commit.Commit, error) {
	changes, err := d.changesFor(c)
	if err != nil {
		return nil, err
	}
	return &commit.Commit{
		ID:      shortHash(c.Hash),
		Author:  shortLogin(c.Author),
		Log:     strings.TrimRight(c.Message, "\n"),
		Changes: changes,
		Branch:  branch,
	}, nil
}

// changesFor diffs the commit against its first parent (or the empty
// tree for a root commit).
func (d *Driver) changesFor(c *object.Commit) ([]commit.Change, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}

	var parentTree *object.Tree
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, err
		}
		parentTree, err = parent.Tree()
		if err != nil {
			return nil, err
		}
	}

	diff, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, err
	}

	changes := make([]commit.Change, 0, len(diff))
	for _, ch := range diff {
		action, err := ch.Action()
		if err != nil {
			return nil, err
		}
		switch action {
		case merkletrie.Insert:
			changes = append(changes, commit.Change{Action: commit.ActionAdd, Path: ch.To.Name})
		case merkletrie.Delete:
			changes = append(changes, commit.Change{Action: commit.ActionDelete, Path: ch.From.Name})
		default:
			changes = append(changes, commit.Change{Action: commit.ActionModify, Path: ch.To.Name})
		}
	}
	return changes, nil
}

func shortHash(h plumbing.Hash) string {
	return h.String()[:shortHashLen]
}

// shortLogin derives the announcement author: the local part of the
// commit author's email, falling back to the name.
func shortLogin(sig object.Signature) string {
	if at := strings.IndexByte(sig.Email, '@'); at > 0 {
		return sig.Email[:at]
	}
	if sig.Name != "" {
		return sig.Name
	}
	return "unknown"
}
