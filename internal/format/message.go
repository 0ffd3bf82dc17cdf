package format

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kgb-bot/kgb/pkg/commit"
)

// privmsgOverhead is the wire overhead budgeted per line; the rest of
// the 400-byte envelope is shared between the channel name and the
// payload.
const privmsgOverhead = len("PRIVMSG ")

// summaryThreshold is the change count above which individual paths are
// replaced by a "(N files)" summary.
const summaryThreshold = 4

// Notification is one commit as the formatter sees it: already
// authenticated, changes parsed, UTF-8 guaranteed.
type Notification struct {
	Repo      string
	Author    string
	Branch    string
	Module    string
	RevPrefix string
	Revision  string
	Changes   []commit.Change
	Log       string
}

// Formatter renders notifications with a compiled palette.
type Formatter struct {
	palette *Palette
}

// New builds a Formatter from the config color overrides.
func New(colorOverrides map[string]string) (*Formatter, error) {
	p, err := NewPalette(colorOverrides)
	if err != nil {
		return nil, err
	}
	return &Formatter{palette: p}, nil
}

// MaxLineBytes returns the chunking bound for a delivery whose longest
// target channel name has the given length.
func MaxLineBytes(maxChannelLen int) int {
	return 400 - privmsgOverhead - maxChannelLen
}

// Message renders the PRIVMSG payload lines for one notification:
// line 0 with author, revision and paths, then one line per non-empty
// log line, all chunked to maxLine bytes.
func (f *Formatter) Message(n *Notification, maxLine int) []string {
	repo := f.palette.Repository.Apply("<" + n.Repo + ">")

	var line0 strings.Builder
	line0.WriteString(repo)
	line0.WriteByte(' ')
	line0.WriteString(f.palette.Author.Apply("<" + n.Author + ">"))
	if n.Branch != "" {
		line0.WriteByte(' ')
		line0.WriteString(f.palette.Branch.Apply(n.Branch))
	}
	line0.WriteByte(' ')
	line0.WriteString(f.palette.Revision.Apply(n.RevPrefix + n.Revision))
	if n.Module != "" {
		line0.WriteByte(' ')
		line0.WriteString(f.palette.Module.Apply(n.Module))
	}
	if ps := f.pathString(n.Changes); ps != "" {
		line0.WriteByte(' ')
		line0.WriteString(ps)
	}

	lines := []string{line0.String()}
	for _, logLine := range strings.Split(n.Log, "\n") {
		if strings.TrimSpace(logLine) == "" {
			continue
		}
		lines = append(lines, repo+" "+logLine)
	}

	contPrefix := repo + " "
	var out []string
	for _, line := range lines {
		out = append(out, chunkLine(line, maxLine, contPrefix)...)
	}
	return out
}

// pathString renders the changed-path portion of line 0: collapsed
// common directory, then either each change colourised by action or a
// file-count summary when the commit touches many paths.
func (f *Formatter) pathString(changes []commit.Change) string {
	if len(changes) == 0 {
		return ""
	}

	dirs := distinctDirs(changes)
	common, collapsed := collapseChanges(changes)

	var b strings.Builder
	if common != "" {
		b.WriteString(f.palette.Path.Apply(common + "/"))
		b.WriteByte(' ')
	}

	if len(changes) > summaryThreshold {
		if dirs > 1 {
			fmt.Fprintf(&b, "(%d files in %d dirs)", len(changes), dirs)
		} else {
			fmt.Fprintf(&b, "(%d files)", len(changes))
		}
		return b.String()
	}

	parts := make([]string, len(collapsed))
	for i, c := range collapsed {
		parts[i] = f.changeText(c)
	}
	b.WriteString(strings.Join(parts, " "))
	return b.String()
}

// changeText colourises one change by its action. A property-only
// change gets its path additionally underlined.
func (f *Formatter) changeText(c commit.Change) string {
	var style Style
	switch c.Action {
	case commit.ActionAdd:
		style = f.palette.Addition
	case commit.ActionDelete:
		style = f.palette.Deletion
	case commit.ActionReplace:
		style = f.palette.Replacement
	default:
		style = f.palette.Modification
	}

	path := c.DisplayPath()
	if c.Action == commit.ActionModify && !c.PropChange {
		return style.Apply(path)
	}

	marker := "(" + string(c.Action)
	if c.PropChange {
		marker += "+"
	}
	marker += ")"

	if c.PropChange {
		return style.open() + marker + f.palette.PropChange.open() + path + codeReset
	}
	return style.Apply(marker + path)
}

// chunkLine splits a payload line that exceeds max bytes, prefixing
// every continuation with the colourised repo name. Splits never land
// inside a UTF-8 sequence.
func chunkLine(line string, max int, contPrefix string) []string {
	if max <= 0 || len(line) <= max {
		return []string{line}
	}
	if len(contPrefix) >= max {
		contPrefix = ""
	}
	var out []string
	for len(line) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			cut = max
		}
		out = append(out, line[:cut])
		line = contPrefix + line[cut:]
	}
	return append(out, line)
}
