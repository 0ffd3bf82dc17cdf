package relay

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgb-bot/kgb/internal/format"
	"github.com/kgb-bot/kgb/pkg/commit"
	"github.com/kgb-bot/kgb/pkg/config"
)

type delivery struct {
	network string
	channel string
	lines   []string
}

// recordingSink captures deliveries instead of talking to IRC.
type recordingSink struct {
	deliveries []delivery
	depth      int
}

func (s *recordingSink) Privmsg(network, channel string, lines []string) {
	s.deliveries = append(s.deliveries, delivery{network, channel, lines})
}

func (s *recordingSink) QueueDepth() int { return s.depth }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Channels: []config.ChannelConfig{
			{Name: "#commits", Network: "oftc", Repos: []string{"test"}},
			{Name: "#test-long-channel", Network: "oftc", Repos: []string{"test"}},
			{Name: "#other", Network: "freenode", Repos: []string{"other"}},
		},
		Repositories: map[string]config.RepositoryConfig{
			"test":  {Password: "v,sjflir"},
			"other": {Password: "secret"},
		},
	}
	require.NoError(t, cfg.Reindex())
	return cfg
}

func notification(revision string) *format.Notification {
	changes, _ := commit.ParseChanges([]string{"(A)/file"})
	return &format.Notification{
		Repo:      "test",
		Author:    "alice",
		RevPrefix: "r",
		Revision:  revision,
		Changes:   changes,
		Log:       "add file",
	}
}

func TestDispatchFansOutToAllChannels(t *testing.T) {
	sink := &recordingSink{}
	r, err := New(sink, nil)
	require.NoError(t, err)
	cfg := testConfig(t)

	delivered := r.Dispatch(cfg, "test", notification("1"))

	assert.Equal(t, 2, delivered)
	require.Len(t, sink.deliveries, 2)
	assert.Equal(t, "#commits", sink.deliveries[0].channel)
	assert.Equal(t, "#test-long-channel", sink.deliveries[1].channel)
	for _, d := range sink.deliveries {
		assert.Equal(t, "oftc", d.network)
		require.NotEmpty(t, d.lines)
		assert.Equal(t, "<test> <alice> r1 (A)file", format.StripCodes(d.lines[0]))
	}
}

func TestDispatchUnknownRepo(t *testing.T) {
	sink := &recordingSink{}
	r, err := New(sink, nil)
	require.NoError(t, err)

	assert.Zero(t, r.Dispatch(testConfig(t), "nonexistent", notification("1")))
	assert.Empty(t, sink.deliveries)
}

func TestDuplicateSuppressedPerChannel(t *testing.T) {
	sink := &recordingSink{}
	r, err := New(sink, nil)
	require.NoError(t, err)
	cfg := testConfig(t)

	assert.Equal(t, 2, r.Dispatch(cfg, "test", notification("1")))
	assert.Equal(t, 0, r.Dispatch(cfg, "test", notification("1")))
	assert.Len(t, sink.deliveries, 2)

	// A different revision is a different message.
	assert.Equal(t, 2, r.Dispatch(cfg, "test", notification("2")))
}

func TestDedupWindowEvictsOldestFirst(t *testing.T) {
	sink := &recordingSink{}
	r, err := New(sink, nil)
	require.NoError(t, err)
	cfg := testConfig(t)

	first := notification("0")
	require.Equal(t, 2, r.Dispatch(cfg, "test", first))

	// Fill the window past capacity with distinct messages.
	for i := 1; i <= dedupWindow; i++ {
		r.Dispatch(cfg, "test", notification(fmt.Sprintf("%d", i)))
	}

	// The oldest fingerprint has been evicted, so the first message
	// goes through again.
	assert.Equal(t, 2, r.Dispatch(cfg, "test", first))
}

func TestDedupWindowsAreIndependentPerChannel(t *testing.T) {
	sink := &recordingSink{}
	r, err := New(sink, nil)
	require.NoError(t, err)

	cfg := &config.Config{
		Channels: []config.ChannelConfig{
			{Name: "#a", Network: "oftc", Repos: []string{"test"}},
		},
	}
	require.NoError(t, cfg.Reindex())
	require.Equal(t, 1, r.Dispatch(cfg, "test", notification("1")))

	// The same message to a freshly configured channel is not a dup.
	cfg.Channels = append(cfg.Channels, config.ChannelConfig{
		Name: "#b", Network: "oftc", Repos: []string{"test"},
	})
	require.NoError(t, cfg.Reindex())

	delivered := r.Dispatch(cfg, "test", notification("1"))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, "#b", sink.deliveries[len(sink.deliveries)-1].channel)
}

func TestBacklogReportsSinkDepth(t *testing.T) {
	sink := &recordingSink{depth: 151}
	r, err := New(sink, nil)
	require.NoError(t, err)
	assert.Equal(t, 151, r.Backlog())
}
