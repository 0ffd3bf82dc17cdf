package protocol

import (
	"strings"
	"unicode/utf8"
)

// NormalizeUTF8 returns s unchanged when it is already valid UTF-8.
// Otherwise the bytes are assumed to be Latin-1 and transcoded, so
// hook scripts feeding legacy-encoded logs still produce a payload the
// server will accept. Both sides hash the post-normalisation bytes.
func NormalizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		b.WriteRune(rune(s[i]))
	}
	return b.String()
}

// Normalize applies NormalizeUTF8 to every textual field of the
// request, in place. Client side only; the server hard-fails instead.
func (r *CommitRequest) Normalize() {
	r.RepoID = NormalizeUTF8(r.RepoID)
	r.RevPrefix = NormalizeUTF8(r.RevPrefix)
	r.Revision = NormalizeUTF8(r.Revision)
	for i, c := range r.Changes {
		r.Changes[i] = NormalizeUTF8(c)
	}
	r.Log = NormalizeUTF8(r.Log)
	r.Author = NormalizeUTF8(r.Author)
	if r.Branch != nil {
		b := NormalizeUTF8(*r.Branch)
		r.Branch = &b
	}
	if r.Module != nil {
		m := NormalizeUTF8(*r.Module)
		r.Module = &m
	}
}

// ValidateUTF8 enforces the server-side rule on a decoded request.
func (r *CommitRequest) ValidateUTF8() error {
	return validateUTF8(r)
}

// validateUTF8 enforces the server-side rule: every received field must
// already be valid UTF-8. No Latin-1 guessing on this side; a payload
// that fails to decode fails the call.
func validateUTF8(r *CommitRequest) error {
	fields := map[string]string{
		"repo_id":  r.RepoID,
		"revision": r.Revision,
		"log":      r.Log,
		"author":   r.Author,
	}
	if r.Branch != nil {
		fields["branch"] = *r.Branch
	}
	if r.Module != nil {
		fields["module"] = *r.Module
	}
	for name, v := range fields {
		if !utf8.ValidString(v) {
			return Faultf(FaultArguments, "argument %q is not valid UTF-8", name)
		}
	}
	for _, c := range r.Changes {
		if !utf8.ValidString(c) {
			return Faultf(FaultArguments, "argument \"changes\" is not valid UTF-8")
		}
	}
	return nil
}
