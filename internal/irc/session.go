package irc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kgb-bot/kgb/internal/logger"
	"github.com/kgb-bot/kgb/internal/relay"
	"github.com/kgb-bot/kgb/pkg/config"
	"github.com/kgb-bot/kgb/pkg/metrics"
)

// State is the lifecycle position of one session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistered
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

const (
	// seenWindow is the capacity of the on-channel MRU that keeps the
	// bot from repeating what somebody else just said.
	seenWindow = 100

	// reclaimInterval paces retries for a desired nick that is held by
	// someone who never visibly releases it.
	reclaimInterval = 30 * time.Second

	// reconnectMaxInterval caps the exponential reconnect backoff.
	reconnectMaxInterval = 30 * time.Second

	sourceURL = "https://github.com/kgb-bot/kgb"
)

// Session is one logical IRC connection to one network. It survives
// transport failures: the outbound queue and the duplicate window are
// session-scoped, not connection-scoped.
type Session struct {
	network string
	cfgFn   func() *config.Config
	dial    Dialer
	version string
	metrics *metrics.Metrics

	// polygen, when set, replaces the random smart-answer pick for
	// channels that opt in.
	polygen func() (string, error)

	queue *sendQueue
	state atomic.Int32

	mu        sync.Mutex
	conn      *conn
	nick      string // current nick, may differ from configured while reclaiming
	joined    map[string]bool
	welcomed  bool // set on 001, consumed by Run to reset the backoff
	nickSuffix int

	seenMu sync.Mutex
	seen   *lru.Cache[string, struct{}]
}

// NewSession builds a session for the named network. cfgFn must return
// the live configuration; the session re-reads it at every decision
// point instead of caching across reloads.
func NewSession(network string, cfgFn func() *config.Config, dial Dialer, version string, polygen func() (string, error), m *metrics.Metrics) *Session {
	if dial == nil {
		dial = defaultDialer
	}
	cfg := cfgFn()
	queueLimit := cfg.RPC.QueueLimit
	if queueLimit <= 0 {
		queueLimit = config.DefaultQueueLimit
	}
	seen, _ := lru.New[string, struct{}](seenWindow)
	return &Session{
		network: network,
		cfgFn:   cfgFn,
		dial:    dial,
		version: version,
		metrics: m,
		polygen: polygen,
		queue:   newSendQueue(queueLimit),
		joined:  make(map[string]bool),
		seen:    seen,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Nick returns the nick currently in use.
func (s *Session) Nick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nick
}

// QueueDepth reports the lines waiting to be written.
func (s *Session) QueueDepth() int {
	return s.queue.depth()
}

// Privmsg queues a multi-line message for a channel. The whole message
// is dropped when the queue cannot take every line, and when the first
// line was recently seen spoken on the channel by someone else.
func (s *Session) Privmsg(channel string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fp := relay.Fingerprint(channel, lines[0])
	s.seenMu.Lock()
	echoed := s.seen.Contains(fp)
	s.seenMu.Unlock()
	if echoed {
		logger.Debug("message already seen on channel, not repeating",
			logger.KeyNetwork, s.network, logger.KeyChannel, channel)
		return
	}
	if !s.queue.push(channel, lines) {
		logger.Warn("send queue full, dropping message",
			logger.KeyNetwork, s.network,
			logger.KeyChannel, channel,
			logger.KeyQueue, s.queue.depth())
	}
}

// Run connects and serves until ctx is cancelled, reconnecting with
// exponential backoff on transport failure.
func (s *Session) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = reconnectMaxInterval
	bo.MaxElapsedTime = 0

	for {
		err := s.runOnce(ctx)
		s.state.Store(int32(StateDisconnected))
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.mu.Lock()
		if s.welcomed {
			bo.Reset()
			s.welcomed = false
		}
		s.mu.Unlock()

		wait := bo.NextBackOff()
		s.metrics.IRCReconnect(s.network)
		logger.Warn("irc connection lost, reconnecting",
			logger.KeyNetwork, s.network,
			logger.KeyError, err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runOnce performs one connect / register / serve cycle.
func (s *Session) runOnce(ctx context.Context) error {
	net, ok := s.cfgFn().Networks[s.network]
	if !ok {
		return fmt.Errorf("network %q no longer configured", s.network)
	}

	s.state.Store(int32(StateConnecting))
	nc, err := s.dial(ctx, net.Addr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", net.Addr(), err)
	}
	c := newConn(nc)

	s.mu.Lock()
	s.conn = c
	s.nick = net.Nick
	s.nickSuffix = 0
	s.joined = make(map[string]bool)
	s.mu.Unlock()

	defer func() {
		c.close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if net.Password != "" {
		if err := c.send(newMessage("PASS", net.Password)); err != nil {
			return err
		}
	}
	if err := c.send(newMessage("NICK", net.Nick)); err != nil {
		return err
	}
	if err := c.send(newMessage("USER", net.Username, "0", "*", net.Ircname)); err != nil {
		return err
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Unblock the blocking read when the session is cancelled.
	go func() {
		<-serveCtx.Done()
		c.close()
	}()
	go s.writeLoop(serveCtx, c)

	for {
		m, err := c.readMessage()
		if err != nil {
			return err
		}
		if err := s.handle(c, m); err != nil {
			return err
		}
	}
}

// writeLoop drains the outbound queue and paces nick reclaim attempts.
func (s *Session) writeLoop(ctx context.Context, c *conn) {
	reclaim := time.NewTicker(reclaimInterval)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reclaim.C:
			s.tryReclaimNick(c)
		case <-s.queue.ready:
			for {
				out, ok := s.queue.pop()
				if !ok {
					break
				}
				var msg *Message
				if out.command == "PRIVMSG" {
					msg = newMessage("PRIVMSG", out.target, out.text)
				} else {
					msg = newMessage(out.command, out.target)
				}
				if err := c.send(msg); err != nil {
					logger.Warn("irc write failed",
						logger.KeyNetwork, s.network, logger.KeyError, err)
					c.close()
					return
				}
				if out.command == "PRIVMSG" {
					s.metrics.IRCMessagesSent(s.network, 1)
				}
			}
		}
	}
}

// handle dispatches one inbound message.
func (s *Session) handle(c *conn, m *Message) error {
	switch m.Command {
	case "PING":
		return c.send(newMessage("PONG", m.Text()))

	case "001": // RPL_WELCOME
		return s.handleWelcome(c, m)

	case "433": // ERR_NICKNAMEINUSE
		return s.handleNickInUse(c)

	case "NICK":
		s.handleNickChange(c, m)

	case "QUIT":
		// The holder of our desired nick leaving is the reclaim moment.
		s.handleHolderGone(c, m.Nick())

	case "JOIN":
		s.handleJoin(m)

	case "KICK":
		return s.handleKick(c, m)

	case "PRIVMSG":
		return s.handlePrivmsg(c, m)

	case "ERROR":
		return fmt.Errorf("server error: %s", m.Text())
	}
	return nil
}

func (s *Session) handleWelcome(c *conn, m *Message) error {
	net := s.cfgFn().Networks[s.network]

	s.mu.Lock()
	if len(m.Params) > 0 {
		s.nick = m.Params[0]
	}
	s.welcomed = true
	s.mu.Unlock()
	s.state.Store(int32(StateRegistered))

	logger.Info("registered with irc server",
		logger.KeyNetwork, s.network, logger.KeyNick, s.Nick())

	if net.NickservPassword != "" {
		if err := c.send(newMessage("PRIVMSG", "NickServ", "IDENTIFY "+net.NickservPassword)); err != nil {
			return err
		}
	}
	for _, ch := range s.cfgFn().ChannelsForNetwork(s.network) {
		if err := c.send(newMessage("JOIN", ch)); err != nil {
			return err
		}
	}
	return nil
}

// handleNickInUse picks a transient nick during registration. The
// desired one is reclaimed later, as soon as its holder lets go.
func (s *Session) handleNickInUse(c *conn) error {
	if s.State() != StateConnecting {
		return nil // reclaim attempt bounced, the ticker will retry
	}
	net := s.cfgFn().Networks[s.network]

	s.mu.Lock()
	s.nickSuffix++
	nick := fmt.Sprintf("%s%s", net.Nick, strings.Repeat("_", s.nickSuffix))
	s.nick = nick
	s.mu.Unlock()

	logger.Warn("nick in use, using transient nick",
		logger.KeyNetwork, s.network, logger.KeyNick, nick)
	return c.send(newMessage("NICK", nick))
}

func (s *Session) handleNickChange(c *conn, m *Message) {
	newNick := m.Text()
	if newNick == "" && len(m.Params) > 0 {
		newNick = m.Params[0]
	}

	s.mu.Lock()
	self := strings.EqualFold(m.Nick(), s.nick)
	if self {
		s.nick = newNick
	}
	s.mu.Unlock()

	if !self {
		s.handleHolderGone(c, m.Nick())
	}
}

// handleHolderGone fires a reclaim when the nick we actually want has
// just been released.
func (s *Session) handleHolderGone(c *conn, gone string) {
	net := s.cfgFn().Networks[s.network]
	if !strings.EqualFold(gone, net.Nick) {
		return
	}
	s.mu.Lock()
	reclaim := !strings.EqualFold(s.nick, net.Nick)
	s.mu.Unlock()
	if reclaim {
		logger.Info("desired nick released, reclaiming",
			logger.KeyNetwork, s.network, logger.KeyNick, net.Nick)
		c.send(newMessage("NICK", net.Nick))
	}
}

func (s *Session) tryReclaimNick(c *conn) {
	net, ok := s.cfgFn().Networks[s.network]
	if !ok || s.State() < StateRegistered {
		return
	}
	s.mu.Lock()
	want := !strings.EqualFold(s.nick, net.Nick)
	s.mu.Unlock()
	if want {
		c.send(newMessage("NICK", net.Nick))
	}
}

func (s *Session) handleJoin(m *Message) {
	channel := m.Target()
	if channel == "" {
		channel = m.Text()
	}
	s.mu.Lock()
	if strings.EqualFold(m.Nick(), s.nick) {
		s.joined[strings.ToLower(channel)] = true
	}
	s.mu.Unlock()
	s.state.Store(int32(StateJoined))
}

func (s *Session) handleKick(c *conn, m *Message) error {
	if len(m.Params) < 2 {
		return nil
	}
	channel, victim := m.Params[0], m.Params[1]
	if !strings.EqualFold(victim, s.Nick()) {
		return nil
	}
	s.mu.Lock()
	delete(s.joined, strings.ToLower(channel))
	s.mu.Unlock()
	logger.Warn("kicked from channel, rejoining",
		logger.KeyNetwork, s.network, logger.KeyChannel, channel)
	return c.send(newMessage("JOIN", channel))
}

// Join and Part adjust channel membership after a config reload. Both
// go through the send queue so a stalled connection cannot block the
// reconciling goroutine; the write loop owns the actual socket writes.
func (s *Session) Join(channels ...string) {
	for _, ch := range channels {
		s.queue.pushControl("JOIN", ch)
	}
}

func (s *Session) Part(channels ...string) {
	for _, ch := range channels {
		s.queue.pushControl("PART", ch)
		s.mu.Lock()
		delete(s.joined, strings.ToLower(ch))
		s.mu.Unlock()
	}
}

// Quit sends a QUIT with the given reason, bounding the in-flight
// write. The caller cancels the session context afterwards.
func (s *Session) Quit(reason string, timeout time.Duration) {
	s.withConn(func(c *conn) {
		c.setWriteDeadline(time.Now().Add(timeout))
		c.send(newMessage("QUIT", reason))
	})
}

func (s *Session) withConn(fn func(c *conn)) {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c != nil {
		fn(c)
	}
}
