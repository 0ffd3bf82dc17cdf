package irc

import (
	"math/rand/v2"
	"path"
	"strings"

	"github.com/kgb-bot/kgb/internal/logger"
	"github.com/kgb-bot/kgb/internal/relay"
)

const ctcpDelim = "\x01"

// handlePrivmsg covers the whole conversational surface: CTCP queries,
// the on-channel echo window, the two bot commands and smart answers.
func (s *Session) handlePrivmsg(c *conn, m *Message) error {
	target, text := m.Target(), m.Text()
	sender := m.Nick()
	if sender == "" || text == "" {
		return nil
	}

	if strings.HasPrefix(text, ctcpDelim) {
		return s.handleCTCP(c, sender, text)
	}

	if isChannel(target) {
		s.recordSeen(target, text)
	}

	body, addressed, replyTo := s.addressedBody(target, sender, text)
	if !addressed {
		return nil
	}

	if cmd, ok := strings.CutPrefix(strings.TrimSpace(body), "!"); ok {
		return s.handleCommand(c, m.Prefix, replyTo, cmd)
	}
	return s.smartAnswer(c, target, replyTo)
}

// addressedBody decides whether the message is directed at the bot and
// what to strip. Private messages are always addressed; channel
// messages only when the first word is our nick followed by ':' or ','.
func (s *Session) addressedBody(target, sender, text string) (body string, addressed bool, replyTo string) {
	if !isChannel(target) {
		return text, true, sender
	}
	first, rest, _ := strings.Cut(text, " ")
	if len(first) < 2 {
		return "", false, ""
	}
	sep := first[len(first)-1]
	if sep != ':' && sep != ',' {
		return "", false, ""
	}
	if !strings.EqualFold(first[:len(first)-1], s.Nick()) {
		return "", false, ""
	}
	return rest, true, target
}

// handleCommand runs one bang command. Only admins are listened to.
func (s *Session) handleCommand(c *conn, prefix, replyTo, cmd string) error {
	if !s.isAdmin(prefix) {
		logger.Debug("command from non-admin ignored",
			logger.KeyNetwork, s.network, "prefix", prefix)
		return nil
	}
	word, _, _ := strings.Cut(cmd, " ")
	switch strings.ToLower(word) {
	case "version":
		return c.send(newMessage("PRIVMSG", replyTo, "Tried /CTCP "+s.Nick()+" VERSION?"))
	default:
		return c.send(newMessage("PRIVMSG", replyTo, "command '"+word+"' is not known"))
	}
}

// smartAnswer replies to a non-command address with a line from the
// channel's pool, or from the polygen oracle when the channel opts in.
func (s *Session) smartAnswer(c *conn, target, replyTo string) error {
	cfg := s.cfgFn()

	if ch := cfg.ChannelByName(target); ch != nil && ch.SmartAnswersPolygen && s.polygen != nil {
		if line, err := s.polygen(); err == nil && line != "" {
			return c.send(newMessage("PRIVMSG", replyTo, line))
		}
	}

	answers := cfg.SmartAnswersFor(target)
	if len(answers) == 0 {
		return nil
	}
	return c.send(newMessage("PRIVMSG", replyTo, answers[rand.IntN(len(answers))]))
}

// isAdmin matches the sender's nick!user@host against the configured
// glob masks, case-insensitively.
func (s *Session) isAdmin(prefix string) bool {
	for _, mask := range s.cfgFn().Admins {
		ok, err := path.Match(strings.ToLower(mask), strings.ToLower(prefix))
		if err == nil && ok {
			return true
		}
	}
	return false
}

// recordSeen files channel traffic into the MRU echo window. A repeat
// is promoted to the front; a new entry evicts the oldest at capacity.
func (s *Session) recordSeen(channel, text string) {
	fp := relay.Fingerprint(channel, text)
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	if _, ok := s.seen.Get(fp); !ok {
		s.seen.Add(fp, struct{}{})
	}
}

// handleCTCP answers the fixed set of client-to-client queries with a
// NOTICE to the sender.
func (s *Session) handleCTCP(c *conn, sender, text string) error {
	payload := strings.Trim(text, ctcpDelim)
	query, args, _ := strings.Cut(payload, " ")

	var reply string
	switch strings.ToUpper(query) {
	case "VERSION":
		reply = "VERSION KGB " + s.version
	case "CLIENTINFO":
		reply = "CLIENTINFO VERSION USERINFO CLIENTINFO SOURCE PING"
	case "USERINFO":
		reply = "USERINFO " + s.cfgFn().Networks[s.network].Ircname
	case "SOURCE":
		reply = "SOURCE " + sourceURL
	case "PING":
		reply = "PING " + args
	default:
		return nil
	}
	return c.send(newMessage("NOTICE", sender, ctcpDelim+reply+ctcpDelim))
}
