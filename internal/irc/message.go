// Package irc maintains one client session per configured IRC network:
// registration, reconnection with backoff, nick reclaim, channel
// membership, CTCP and the bot command surface.
package irc

import (
	"fmt"
	"strings"
)

// Message is one RFC 1459 protocol line, split into its parts. The
// trailing parameter, when present, is the last element of Params.
type Message struct {
	// Prefix is the sender, either a server name or nick!user@host,
	// without the leading ':'.
	Prefix string

	Command string
	Params  []string
}

// ParseMessage splits a raw line (without CRLF) into prefix, command
// and parameters.
func ParseMessage(line string) (*Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, fmt.Errorf("empty message")
	}

	m := &Message{}
	rest := line
	if rest[0] == ':' {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("malformed message %q: prefix only", line)
		}
		m.Prefix = rest[1:sp]
		rest = strings.TrimLeft(rest[sp+1:], " ")
	}

	if i := strings.Index(rest, " :"); i >= 0 {
		trailing := rest[i+2:]
		m.Params = append(strings.Fields(rest[:i]), trailing)
	} else {
		m.Params = strings.Fields(rest)
	}
	if len(m.Params) == 0 {
		return nil, fmt.Errorf("malformed message %q: no command", line)
	}
	m.Command = strings.ToUpper(m.Params[0])
	m.Params = m.Params[1:]
	return m, nil
}

// String renders the wire form, without CRLF. The last parameter is
// sent as trailing when it contains a space, starts with ':' or is
// empty.
func (m *Message) String() string {
	var b strings.Builder
	if m.Prefix != "" {
		b.WriteByte(':')
		b.WriteString(m.Prefix)
		b.WriteByte(' ')
	}
	b.WriteString(m.Command)
	for i, p := range m.Params {
		b.WriteByte(' ')
		if i == len(m.Params)-1 && (p == "" || p[0] == ':' || strings.ContainsAny(p, " ")) {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}

// Nick returns the nick part of a nick!user@host prefix, or the whole
// prefix when it carries no user part.
func (m *Message) Nick() string {
	if i := strings.IndexByte(m.Prefix, '!'); i >= 0 {
		return m.Prefix[:i]
	}
	return m.Prefix
}

// Text returns the trailing parameter, or "".
func (m *Message) Text() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// Target returns the first parameter, conventionally the destination
// of PRIVMSG and NOTICE.
func (m *Message) Target() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[0]
}

// newMessage is a shorthand constructor for outbound lines.
func newMessage(command string, params ...string) *Message {
	return &Message{Command: command, Params: params}
}

// isChannel reports whether target names a channel rather than a nick.
func isChannel(target string) bool {
	return strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&")
}
