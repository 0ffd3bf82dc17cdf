// Package commit defines the typed representation of a version-control
// commit as it travels from a repository hook to the IRC announcer.
package commit

import (
	"fmt"
	"unicode/utf8"
)

// Commit is one accepted revision together with its path changes.
//
// ID is an opaque string chosen by the extractor: the first 7 hex
// characters of the SHA for git, the decimal revision for Subversion.
type Commit struct {
	// ID identifies the revision. Mandatory.
	ID string

	// Author is the short login of the committer, no domain part.
	Author string

	// Log is the full, possibly multi-line commit message. Always valid UTF-8.
	Log string

	// Changes lists the changed paths in commit order. May be empty
	// (e.g. for a synthetic "branch created" commit).
	Changes []Change

	// Branch and Module are optional labels attached by the extractor.
	Branch string
	Module string
}

// New constructs a Commit, enforcing the model invariants: the id is
// mandatory and the log must be valid UTF-8. A log that fails to decode
// is a hard error at construction, never later.
func New(id, author, log string, changes []Change) (*Commit, error) {
	if id == "" {
		return nil, fmt.Errorf("commit: empty id")
	}
	if !utf8.ValidString(log) {
		return nil, fmt.Errorf("commit %s: log is not valid UTF-8", id)
	}
	return &Commit{
		ID:      id,
		Author:  author,
		Log:     log,
		Changes: changes,
	}, nil
}

// ChangeStrings returns the canonical string form of every change,
// in order. This is the representation that crosses the wire.
func (c *Commit) ChangeStrings() []string {
	if len(c.Changes) == 0 {
		return nil
	}
	out := make([]string, len(c.Changes))
	for i, ch := range c.Changes {
		out[i] = ch.String()
	}
	return out
}
