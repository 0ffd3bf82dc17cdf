package irc

import (
	"context"
	"sync"
	"time"

	"github.com/kgb-bot/kgb/internal/logger"
	"github.com/kgb-bot/kgb/pkg/config"
	"github.com/kgb-bot/kgb/pkg/metrics"
)

// respawnDelay spaces out the reconnect when a reload changes a
// network's connection identity.
const respawnDelay = 3 * time.Second

// QuitReason is sent with the QUIT on graceful shutdown.
const QuitReason = "KGB going to drink vodka"

// Manager owns one Session per configured network and is the delivery
// sink of the relay.
type Manager struct {
	cfgFn   func() *config.Config
	version string
	dial    Dialer
	polygen func() (string, error)
	metrics *metrics.Metrics

	mu       sync.Mutex
	ctx      context.Context
	sessions map[string]*sessionHandle
	wg       sync.WaitGroup
}

type sessionHandle struct {
	session *Session
	cancel  context.CancelFunc
}

// Option adjusts a Manager at construction time.
type Option func(*Manager)

// WithDialer substitutes the transport, for tests.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithPolygen wires in an external smart-answer oracle.
func WithPolygen(fn func() (string, error)) Option {
	return func(m *Manager) { m.polygen = fn }
}

// WithMetrics attaches delivery counters. A nil value disables them.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager builds a manager over the live config. Sessions are not
// started until Run.
func NewManager(cfgFn func() *config.Config, version string, opts ...Option) *Manager {
	m := &Manager{
		cfgFn:    cfgFn,
		version:  version,
		sessions: make(map[string]*sessionHandle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run spawns a session per configured network and blocks until ctx is
// cancelled and every session has wound down.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	networks := make([]string, 0, len(m.cfgFn().Networks))
	for name := range m.cfgFn().Networks {
		networks = append(networks, name)
	}
	m.mu.Unlock()

	for _, name := range networks {
		m.spawn(name, 0)
	}

	<-ctx.Done()
	m.wg.Wait()
	return ctx.Err()
}

// spawn starts (after an optional delay) the session for one network.
func (m *Manager) spawn(network string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil || m.ctx.Err() != nil {
		return
	}
	if _, running := m.sessions[network]; running {
		return
	}

	sctx, cancel := context.WithCancel(m.ctx)
	s := NewSession(network, m.cfgFn, m.dial, m.version, m.polygen, m.metrics)
	m.sessions[network] = &sessionHandle{session: s, cancel: cancel}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if delay > 0 {
			select {
			case <-sctx.Done():
				return
			case <-time.After(delay):
			}
		}
		logger.Info("starting irc session", logger.KeyNetwork, network)
		s.Run(sctx)
	}()
}

// stop tears one session down, optionally with a QUIT first.
func (m *Manager) stop(network, reason string, timeout time.Duration) {
	m.mu.Lock()
	h, ok := m.sessions[network]
	if ok {
		delete(m.sessions, network)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if reason != "" {
		h.session.Quit(reason, timeout)
	}
	h.cancel()
}

// Privmsg implements the relay sink: route to the network's session.
func (m *Manager) Privmsg(network, channel string, lines []string) {
	m.mu.Lock()
	h, ok := m.sessions[network]
	m.mu.Unlock()
	if !ok {
		logger.Warn("no session for network, dropping message",
			logger.KeyNetwork, network, logger.KeyChannel, channel)
		return
	}
	h.session.Privmsg(channel, lines)
}

// QueueDepth sums the outbound backlog across every session. The RPC
// ingress compares it against queue_limit for admission control.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, h := range m.sessions {
		total += h.session.QueueDepth()
	}
	return total
}

// Session returns the live session for a network, or nil.
func (m *Manager) Session(network string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.sessions[network]; ok {
		return h.session
	}
	return nil
}

// Reconcile applies a config reload: tear down removed or re-identified
// networks, start new ones, and adjust channel membership in place for
// the rest. A re-identified network respawns after a short delay.
func (m *Manager) Reconcile(old, cur *config.Config) {
	for name, oldNet := range old.Networks {
		curNet, keep := cur.Networks[name]
		switch {
		case !keep:
			logger.Info("network removed, closing session", logger.KeyNetwork, name)
			m.stop(name, QuitReason, cur.ShutdownTimeout)
		case !oldNet.SameIdentity(curNet):
			logger.Info("network identity changed, respawning session",
				logger.KeyNetwork, name)
			m.stop(name, QuitReason, cur.ShutdownTimeout)
			m.spawn(name, respawnDelay)
		default:
			m.reconcileChannels(name, old, cur)
		}
	}
	for name := range cur.Networks {
		if _, existed := old.Networks[name]; !existed {
			logger.Info("network added, starting session", logger.KeyNetwork, name)
			m.spawn(name, 0)
		}
	}
}

// reconcileChannels joins additions and parts removals for a session
// that survives the reload.
func (m *Manager) reconcileChannels(network string, old, cur *config.Config) {
	s := m.Session(network)
	if s == nil {
		return
	}

	oldSet := make(map[string]bool)
	for _, ch := range old.ChannelsForNetwork(network) {
		oldSet[ch] = true
	}
	curSet := make(map[string]bool)
	for _, ch := range cur.ChannelsForNetwork(network) {
		curSet[ch] = true
	}

	for ch := range curSet {
		if !oldSet[ch] {
			logger.Info("joining channel",
				logger.KeyNetwork, network, logger.KeyChannel, ch)
			s.Join(ch)
		}
	}
	for ch := range oldSet {
		if !curSet[ch] {
			logger.Info("parting channel",
				logger.KeyNetwork, network, logger.KeyChannel, ch)
			s.Part(ch)
		}
	}
}

// Shutdown QUITs every session and waits, bounded, for the outbound
// queues to drain. The caller cancels the run context afterwards.
func (m *Manager) Shutdown(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) && m.QueueDepth() > 0 {
		time.Sleep(50 * time.Millisecond)
	}

	m.mu.Lock()
	handles := make([]*sessionHandle, 0, len(m.sessions))
	for _, h := range m.sessions {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.session.Quit(QuitReason, timeout)
	}
}
