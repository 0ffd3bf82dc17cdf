// Package svn extracts one Subversion revision through svnlook, the way
// a post-commit hook sees it: repository path plus revision number.
package svn

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kgb-bot/kgb/pkg/commit"
)

// runner invokes svnlook; swappable for tests.
type runner func(ctx context.Context, args ...string) ([]byte, error)

func svnlook(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "svnlook", args...).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("svnlook %s: %s", args[0], strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("svnlook %s: %w", args[0], err)
	}
	return out, nil
}

// Driver reads one repository.
type Driver struct {
	repoPath string
	run      runner
}

// Open points the driver at a repository. The svnlook binary must be on
// PATH; it is only invoked when a revision is read.
func Open(repoPath string) *Driver {
	return &Driver{repoPath: repoPath, run: svnlook}
}

// Commit reads one revision: author and log from `svnlook info`, the
// changed paths from `svnlook changed`.
func (d *Driver) Commit(ctx context.Context, revision string) (*commit.Commit, error) {
	author, log, err := d.info(ctx, revision)
	if err != nil {
		return nil, err
	}
	changes, err := d.changed(ctx, revision)
	if err != nil {
		return nil, err
	}
	return commit.New(revision, author, log, changes)
}

// info output is author, date, log size and then the log itself.
func (d *Driver) info(ctx context.Context, revision string) (author, log string, err error) {
	out, err := d.run(ctx, "info", "-r", revision, d.repoPath)
	if err != nil {
		return "", "", err
	}
	lines := strings.SplitN(string(out), "\n", 4)
	if len(lines) < 4 {
		return "", "", fmt.Errorf("unexpected svnlook info output for r%s", revision)
	}
	return lines[0], strings.TrimRight(lines[3], "\n"), nil
}

// changed lines carry a two-letter status: content flag (A, D, U or _)
// then property flag (U or space).
func (d *Driver) changed(ctx context.Context, revision string) ([]commit.Change, error) {
	out, err := d.run(ctx, "changed", "-r", revision, d.repoPath)
	if err != nil {
		return nil, err
	}

	var changes []commit.Change
	for _, line := range strings.Split(string(out), "\n") {
		if len(line) < 3 {
			continue
		}
		status, path := line[:2], strings.TrimLeft(line[2:], " ")
		if path == "" {
			continue
		}
		ch := commit.Change{Path: path, PropChange: status[1] == 'U'}
		switch status[0] {
		case 'A':
			ch.Action = commit.ActionAdd
		case 'D':
			ch.Action = commit.ActionDelete
		case 'U', '_':
			ch.Action = commit.ActionModify
		default:
			continue
		}
		changes = append(changes, ch)
	}
	return changes, nil
}
