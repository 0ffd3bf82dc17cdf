// Package relay fans an accepted commit out to the IRC channels that
// announce its repository, suppressing near-duplicate deliveries per
// channel.
package relay

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kgb-bot/kgb/internal/format"
	"github.com/kgb-bot/kgb/internal/logger"
	"github.com/kgb-bot/kgb/pkg/config"
)

// dedupWindow is the number of distinct message fingerprints remembered
// per channel. The oldest entry is evicted first.
const dedupWindow = 100

// fingerprintHead is how much of the first line participates in the
// fingerprint; messages identical this far are considered the same.
const fingerprintHead = 100

// Sink is the delivery side of the relay. The IRC manager implements
// it; tests substitute a recorder.
type Sink interface {
	// Privmsg queues the payload lines for one channel on one network.
	// Queue overflow drops the whole message inside the sink.
	Privmsg(network, channel string, lines []string)

	// QueueDepth reports the summed backlog across all sessions, used
	// for admission control.
	QueueDepth() int
}

// Relay owns the formatter and the per-channel duplicate windows.
type Relay struct {
	formatter *format.Formatter
	sink      Sink

	mu   sync.Mutex
	seen map[string]*lru.Cache[string, struct{}]
}

// New builds a Relay delivering through sink with the given palette
// overrides.
func New(sink Sink, colors map[string]string) (*Relay, error) {
	f, err := format.New(colors)
	if err != nil {
		return nil, err
	}
	return &Relay{
		formatter: f,
		sink:      sink,
		seen:      make(map[string]*lru.Cache[string, struct{}]),
	}, nil
}

// Backlog reports the sink's summed send-queue depth.
func (r *Relay) Backlog() int {
	return r.sink.QueueDepth()
}

// Dispatch formats the notification once per repository delivery and
// queues it to every channel announcing repoID. Returns the number of
// channels actually delivered to, after duplicate suppression.
func (r *Relay) Dispatch(cfg *config.Config, repoID string, n *format.Notification) int {
	channels := cfg.ChannelsForRepo(repoID)
	if len(channels) == 0 {
		logger.Debug("no channels for repository", logger.KeyRepo, repoID)
		return 0
	}

	maxName := 0
	for _, ch := range channels {
		if len(ch.Name) > maxName {
			maxName = len(ch.Name)
		}
	}
	lines := r.formatter.Message(n, format.MaxLineBytes(maxName))
	if len(lines) == 0 {
		return 0
	}
	delivered := 0
	for _, ch := range channels {
		if r.isDuplicate(ch.Network, ch.Name, lines[0]) {
			logger.Debug("duplicate commit message suppressed",
				logger.KeyRepo, repoID,
				logger.KeyNetwork, ch.Network,
				logger.KeyChannel, ch.Name)
			continue
		}
		r.sink.Privmsg(ch.Network, ch.Name, lines)
		delivered++
	}
	return delivered
}

// isDuplicate checks the channel's fingerprint window and records the
// fingerprint when it is new.
func (r *Relay) isDuplicate(network, channel, lineZero string) bool {
	fp := Fingerprint(channel, lineZero)

	r.mu.Lock()
	defer r.mu.Unlock()

	key := network + "/" + channel
	window, ok := r.seen[key]
	if !ok {
		// NewLRU only fails on a non-positive size.
		window, _ = lru.New[string, struct{}](dedupWindow)
		r.seen[key] = window
	}
	if window.Contains(fp) {
		return true
	}
	window.Add(fp, struct{}{})
	return false
}

// Fingerprint hashes a channel name and the head of a message line.
// The IRC session uses the same function for its on-channel MRU, so a
// message we are about to send matches one somebody else just said.
func Fingerprint(channel, line string) string {
	runes := []rune(line)
	if len(runes) > fingerprintHead {
		line = string(runes[:fingerprintHead])
	}
	h := sha1.New()
	h.Write([]byte(channel))
	h.Write([]byte{0})
	h.Write([]byte(line))
	return hex.EncodeToString(h.Sum(nil))
}
