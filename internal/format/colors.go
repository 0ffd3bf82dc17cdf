// Package format turns an accepted commit into colourised IRC PRIVMSG
// payload lines: common-directory collapsing, per-action colouring and
// bounded-line chunking.
package format

import (
	"fmt"
	"strings"
)

// IRC formatting escape codes.
const (
	codeBold      = "\x02"
	codeUnderline = "\x1f"
	codeReverse   = "\x16"
	codeColor     = "\x03"
	codeReset     = "\x0f"
)

// colorIndex maps color names to mIRC color indexes. The table runs
// 01..16 with 15 unassigned.
var colorIndex = map[string]int{
	"black":   1,
	"navy":    2,
	"green":   3,
	"red":     4,
	"brown":   5,
	"purple":  6,
	"orange":  7,
	"yellow":  8,
	"lime":    9,
	"teal":    10,
	"aqua":    11,
	"blue":    12,
	"fuchsia": 13,
	"silver":  14,
	"white":   16,
}

// Style is a compiled sequence of IRC escape codes. Applying the empty
// style leaves text unchanged.
type Style string

// Apply wraps text in the style's escape codes, terminated by ^O.
func (s Style) Apply(text string) string {
	if s == "" {
		return text
	}
	return string(s) + text + codeReset
}

// open returns the style's opening codes without a terminator, for
// nesting inside an already-open style.
func (s Style) open() string {
	return string(s)
}

// ParseStyle compiles a whitespace-separated token list such as
// "bold red" or "underline" into a Style.
func ParseStyle(spec string) (Style, error) {
	var b strings.Builder
	for _, tok := range strings.Fields(spec) {
		switch tok {
		case "bold":
			b.WriteString(codeBold)
		case "underline":
			b.WriteString(codeUnderline)
		case "reverse":
			b.WriteString(codeReverse)
		case "none":
		default:
			idx, ok := colorIndex[tok]
			if !ok {
				return "", fmt.Errorf("unknown style token %q", tok)
			}
			fmt.Fprintf(&b, "%s%02d", codeColor, idx)
		}
	}
	return Style(b.String()), nil
}

// Palette holds the compiled styles for every message element.
type Palette struct {
	Repository   Style
	Revision     Style
	Path         Style
	Author       Style
	Branch       Style
	Module       Style
	Addition     Style
	Modification Style
	Deletion     Style
	Replacement  Style
	PropChange   Style
}

// defaultStyleSpecs is the stock palette; the colors section of the
// config overrides entries by name.
var defaultStyleSpecs = map[string]string{
	"repository":   "bold",
	"revision":     "bold",
	"path":         "teal",
	"author":       "green",
	"branch":       "brown",
	"module":       "purple",
	"addition":     "green",
	"modification": "teal",
	"deletion":     "bold red",
	"replacement":  "reverse",
	"prop_change":  "underline",
}

// NewPalette compiles the default styles merged with the overrides.
func NewPalette(overrides map[string]string) (*Palette, error) {
	specs := make(map[string]string, len(defaultStyleSpecs))
	for k, v := range defaultStyleSpecs {
		specs[k] = v
	}
	for k, v := range overrides {
		if _, known := defaultStyleSpecs[k]; !known {
			return nil, fmt.Errorf("unknown color key %q", k)
		}
		specs[k] = v
	}

	p := &Palette{}
	for key, dst := range map[string]*Style{
		"repository":   &p.Repository,
		"revision":     &p.Revision,
		"path":         &p.Path,
		"author":       &p.Author,
		"branch":       &p.Branch,
		"module":       &p.Module,
		"addition":     &p.Addition,
		"modification": &p.Modification,
		"deletion":     &p.Deletion,
		"replacement":  &p.Replacement,
		"prop_change":  &p.PropChange,
	} {
		s, err := ParseStyle(specs[key])
		if err != nil {
			return nil, fmt.Errorf("color %q: %w", key, err)
		}
		*dst = s
	}
	return p, nil
}

// StripCodes removes every IRC formatting escape from s.
func StripCodes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 0x02, 0x1f, 0x16, 0x0f:
		case 0x03:
			// Up to two digits of color index follow.
			for n := 0; n < 2 && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9'; n++ {
				i++
			}
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
