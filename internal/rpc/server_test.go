package rpc

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgb-bot/kgb/internal/format"
	"github.com/kgb-bot/kgb/internal/relay"
	"github.com/kgb-bot/kgb/pkg/config"
	"github.com/kgb-bot/kgb/pkg/protocol"
)

type delivery struct {
	network string
	channel string
	lines   []string
}

type recordingSink struct {
	deliveries []delivery
	depth      int
}

func (s *recordingSink) Privmsg(network, channel string, lines []string) {
	s.deliveries = append(s.deliveries, delivery{network, channel, lines})
}

func (s *recordingSink) QueueDepth() int { return s.depth }

func serverConfig() *config.Config {
	cfg := &config.Config{
		RPC: config.RPCConfig{
			Port:           9999,
			ServiceName:    "KGB",
			QueueLimit:     150,
			MinProtocolVer: 1,
		},
		Networks: map[string]config.NetworkConfig{
			"testnet": {Server: "irc.example.org", Port: 6667, Nick: "KGB"},
		},
		Channels: []config.ChannelConfig{
			{Name: "#commits", Network: "testnet", Repos: []string{"test"}},
		},
		Repositories: map[string]config.RepositoryConfig{
			"test": {Password: "v,sjflir"},
			"open": {},
		},
		ShutdownTimeout: 2 * time.Second,
	}
	if err := cfg.Reindex(); err != nil {
		panic(err)
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	r, err := relay.New(sink, nil)
	require.NoError(t, err)
	return NewServer(func() *config.Config { return cfg }, r, nil), sink
}

// post sends one commit envelope and decodes the XML-RPC response.
func post(t *testing.T, s *Server, body []byte) (any, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/?session=KGB", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return protocol.UnmarshalResponse(w.Body.Bytes())
}

func signedRequest(repoID, password string, mutate func(*protocol.CommitRequest)) []byte {
	req := &protocol.CommitRequest{
		Version:   protocol.VersionV2,
		RepoID:    repoID,
		RevPrefix: "r",
		Revision:  "1",
		Changes:   []string{"(A)/file"},
		Log:       "add file",
		Author:    "alice",
	}
	if mutate != nil {
		mutate(req)
	}
	req.Checksum = protocol.ChecksumFor(req, password)
	body, err := protocol.MarshalCall(protocol.MethodCommit, req.Args())
	if err != nil {
		panic(err)
	}
	return body
}

func TestCommitAcceptedAndDelivered(t *testing.T) {
	s, sink := newTestServer(t, serverConfig())

	result, err := post(t, s, signedRequest("test", "v,sjflir", nil))
	require.NoError(t, err)
	assert.Equal(t, "OK", result)

	require.Len(t, sink.deliveries, 1)
	d := sink.deliveries[0]
	assert.Equal(t, "testnet", d.network)
	assert.Equal(t, "#commits", d.channel)
	require.Len(t, d.lines, 2)
	assert.Equal(t, "<test> <alice> r1 (A)file", format.StripCodes(d.lines[0]))
	assert.Equal(t, "<test> add file", format.StripCodes(d.lines[1]))
}

func TestCommitPlainModify(t *testing.T) {
	s, sink := newTestServer(t, serverConfig())

	_, err := post(t, s, signedRequest("test", "v,sjflir", func(r *protocol.CommitRequest) {
		r.Revision = "2"
		r.Changes = []string{"(M)/file"}
		r.Log = "modify file"
	}))
	require.NoError(t, err)
	require.Len(t, sink.deliveries, 1)
	assert.Equal(t, "<test> <alice> r2 file", format.StripCodes(sink.deliveries[0].lines[0]))
}

func TestCommitUTF8Log(t *testing.T) {
	s, sink := newTestServer(t, serverConfig())
	log := "remove file. Über cool with cyrillics: здрасти"

	_, err := post(t, s, signedRequest("test", "v,sjflir", func(r *protocol.CommitRequest) {
		r.Revision = "4"
		r.Changes = []string{"(D)/file"}
		r.Log = log
	}))
	require.NoError(t, err)
	require.Len(t, sink.deliveries, 1)
	require.Len(t, sink.deliveries[0].lines, 2)
	assert.Equal(t, "<test> <alice> r4 (D)file", format.StripCodes(sink.deliveries[0].lines[0]))
	assert.Equal(t, "<test> "+log, format.StripCodes(sink.deliveries[0].lines[1]))
}

func TestCommitBadChecksumRejected(t *testing.T) {
	s, sink := newTestServer(t, serverConfig())

	body := signedRequest("test", "wrong password", nil)
	_, err := post(t, s, body)
	var fault *protocol.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, protocol.FaultArguments, fault.Code)
	assert.Empty(t, sink.deliveries)
}

func TestCommitUnknownRepoRejected(t *testing.T) {
	s, _ := newTestServer(t, serverConfig())

	_, err := post(t, s, signedRequest("nonexistent", "v,sjflir", func(r *protocol.CommitRequest) {
		r.RepoID = "nonexistent"
	}))
	var fault *protocol.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, protocol.FaultArguments, fault.Code)
}

func v0Request(repoID, password string) []byte {
	req := &protocol.CommitRequest{
		Version:  protocol.VersionV0,
		RepoID:   repoID,
		Password: password,
		Revision: "1",
		Changes:  []string{"(A)/file"},
		Log:      "add file",
		Author:   "alice",
	}
	body, err := protocol.MarshalCall(protocol.MethodCommit, req.Args())
	if err != nil {
		panic(err)
	}
	return body
}

func TestV0RejectedByDefaultMinimum(t *testing.T) {
	s, _ := newTestServer(t, serverConfig())

	_, err := post(t, s, v0Request("test", "v,sjflir"))
	var fault *protocol.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, protocol.FaultArguments, fault.Code)
}

func TestV0AdmittedWhenConfigured(t *testing.T) {
	cfg := serverConfig()
	cfg.RPC.MinProtocolVer = 0
	s, sink := newTestServer(t, cfg)

	result, err := post(t, s, v0Request("test", "v,sjflir"))
	require.NoError(t, err)
	assert.Equal(t, "OK", result)
	assert.Len(t, sink.deliveries, 1)

	_, err = post(t, s, v0Request("test", "wrong"))
	var fault *protocol.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, protocol.FaultArguments, fault.Code)
}

func TestV0EmptyRepoPasswordDisablesAuth(t *testing.T) {
	cfg := serverConfig()
	cfg.RPC.MinProtocolVer = 0
	s, _ := newTestServer(t, cfg)

	result, err := post(t, s, v0Request("open", "anything goes"))
	require.NoError(t, err)
	assert.Equal(t, "OK", result)
}

func TestSlowdownWhenBacklogSaturated(t *testing.T) {
	s, sink := newTestServer(t, serverConfig())
	sink.depth = 151

	_, err := post(t, s, signedRequest("test", "v,sjflir", nil))
	var fault *protocol.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, protocol.FaultSlowdown, fault.Code)

	// Backlog drains, the next call goes through.
	sink.depth = 10
	result, err := post(t, s, signedRequest("test", "v,sjflir", func(r *protocol.CommitRequest) {
		r.Revision = "2"
	}))
	require.NoError(t, err)
	assert.Equal(t, "OK", result)
}

func TestDuplicateSubmissionDeliveredOnce(t *testing.T) {
	s, sink := newTestServer(t, serverConfig())

	body := signedRequest("test", "v,sjflir", nil)
	_, err := post(t, s, body)
	require.NoError(t, err)
	result, err := post(t, s, body)
	require.NoError(t, err)

	// The duplicate is still "OK" on the wire but nothing is sent.
	assert.Equal(t, "OK", result)
	assert.Len(t, sink.deliveries, 1)
}

func TestWrongSessionRejected(t *testing.T) {
	s, _ := newTestServer(t, serverConfig())

	req := httptest.NewRequest(http.MethodPost, "/?session=other",
		bytes.NewReader(signedRequest("test", "v,sjflir", nil)))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUnknownMethodRejected(t *testing.T) {
	s, _ := newTestServer(t, serverConfig())

	body, err := protocol.MarshalCall("relay_message", []any{"#commits", "hi"})
	require.NoError(t, err)
	_, err = post(t, s, body)
	var fault *protocol.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, protocol.FaultArguments, fault.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, serverConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}
