package commit

import (
	"fmt"
	"strings"
)

// Action describes what happened to a path in a commit.
type Action byte

const (
	ActionAdd      Action = 'A'
	ActionModify   Action = 'M'
	ActionDelete   Action = 'D'
	ActionReplace  Action = 'R'
)

// Valid reports whether a is one of the four known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionAdd, ActionModify, ActionDelete, ActionReplace:
		return true
	}
	return false
}

// Change represents one modified path within a commit.
//
// The canonical string form is "(X)path" where X is the action letter,
// with a trailing "+" inside the parentheses when only path metadata
// changed ("(M+)path"). A plain modification with no property change is
// abbreviated to the bare path.
type Change struct {
	// Action is one of A (added), M (modified), D (deleted), R (replaced).
	Action Action

	// Path is the changed path. A leading "/" is stripped on display.
	Path string

	// PropChange is set when only metadata of the path changed.
	PropChange bool
}

// String emits the canonical form. ParseChange is its exact inverse.
func (c Change) String() string {
	if c.Action == ActionModify && !c.PropChange {
		return c.Path
	}
	var b strings.Builder
	b.WriteByte('(')
	b.WriteByte(byte(c.Action))
	if c.PropChange {
		b.WriteByte('+')
	}
	b.WriteByte(')')
	b.WriteString(c.Path)
	return b.String()
}

// DisplayPath returns the path with a leading "/" stripped.
func (c Change) DisplayPath() string {
	return strings.TrimPrefix(c.Path, "/")
}

// ParseChange parses the canonical change string form.
//
// Accepted inputs are "(X)path", "(X+)path" and a bare path, which is
// shorthand for a plain modification. Parsing is the inverse of
// Change.String for every canonical string.
func ParseChange(s string) (Change, error) {
	if !strings.HasPrefix(s, "(") {
		return Change{Action: ActionModify, Path: s}, nil
	}
	close := strings.IndexByte(s, ')')
	if close < 0 {
		return Change{}, fmt.Errorf("malformed change %q: missing ')'", s)
	}
	flags := s[1:close]
	if len(flags) == 0 {
		return Change{}, fmt.Errorf("malformed change %q: empty action", s)
	}
	c := Change{
		Action: Action(flags[0]),
		Path:   s[close+1:],
	}
	if !c.Action.Valid() {
		return Change{}, fmt.Errorf("malformed change %q: unknown action %q", s, flags[0])
	}
	switch {
	case len(flags) == 1:
	case len(flags) == 2 && flags[1] == '+':
		c.PropChange = true
	default:
		return Change{}, fmt.Errorf("malformed change %q: bad flags %q", s, flags)
	}
	return c, nil
}

// ParseChanges parses a list of canonical change strings, preserving order.
func ParseChanges(raw []string) ([]Change, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	changes := make([]Change, 0, len(raw))
	for _, s := range raw {
		c, err := ParseChange(s)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, nil
}
