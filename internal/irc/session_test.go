package irc

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgb-bot/kgb/pkg/config"
)

// fakeServer is the far end of a net.Pipe, driven line by line from the
// test body.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (f *fakeServer) readLine() string {
	f.t.Helper()
	require.NoError(f.t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := f.r.ReadString('\n')
	require.NoError(f.t, err)
	return strings.TrimRight(line, "\r\n")
}

func (f *fakeServer) send(line string) {
	f.t.Helper()
	require.NoError(f.t, f.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := f.conn.Write([]byte(line + "\r\n"))
	require.NoError(f.t, err)
}

// expectSilence asserts that no line arrives within the grace period.
func (f *fakeServer) expectSilence() {
	f.t.Helper()
	f.conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	line, err := f.r.ReadString('\n')
	require.Error(f.t, err, "unexpected line: %q", line)
}

// handshake consumes the registration and welcomes the client into
// #commits.
func (f *fakeServer) handshake(nick string) {
	f.t.Helper()
	require.Equal(f.t, "NICK KGB", f.readLine())
	require.Equal(f.t, "USER kgb 0 * :KGB bot", f.readLine())
	f.send(":irc.example.org 001 " + nick + " :Welcome")
	require.Equal(f.t, "JOIN #commits", f.readLine())
}

func sessionConfig() *config.Config {
	cfg := &config.Config{
		RPC: config.RPCConfig{QueueLimit: 150},
		Networks: map[string]config.NetworkConfig{
			"testnet": {
				Server:   "irc.example.org",
				Port:     6667,
				Nick:     "KGB",
				Username: "kgb",
				Ircname:  "KGB bot",
			},
		},
		Channels: []config.ChannelConfig{
			{Name: "#commits", Network: "testnet", Repos: []string{"test"}},
		},
		Repositories: map[string]config.RepositoryConfig{
			"test": {Password: "v,sjflir"},
		},
		Admins:          []string{"alice!*@*"},
		SmartAnswers:    []string{"What?"},
		ShutdownTimeout: 2 * time.Second,
	}
	if err := cfg.Reindex(); err != nil {
		panic(err)
	}
	return cfg
}

// startSession runs a session against a piped fake server. Reconnect
// attempts after the first connection block until the test ends.
func startSession(t *testing.T, cfgFn func() *config.Config) (*Session, *fakeServer) {
	t.Helper()

	client, server := net.Pipe()
	var dialed atomic.Bool
	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		if dialed.CompareAndSwap(false, true) {
			return client, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	s := NewSession("testnet", cfgFn, dial, "1.2.3", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		client.Close()
		server.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not stop")
		}
	})

	return s, &fakeServer{t: t, conn: server, r: bufio.NewReader(server)}
}

func TestSessionRegistersAndJoins(t *testing.T) {
	cfg := sessionConfig()
	s, srv := startSession(t, func() *config.Config { return cfg })

	srv.handshake("KGB")
	assert.Equal(t, "KGB", s.Nick())
	assert.GreaterOrEqual(t, int(s.State()), int(StateRegistered))
}

func TestSessionSendsServerPassword(t *testing.T) {
	cfg := sessionConfig()
	nc := cfg.Networks["testnet"]
	nc.Password = "sekrit"
	cfg.Networks["testnet"] = nc

	_, srv := startSession(t, func() *config.Config { return cfg })
	require.Equal(t, "PASS sekrit", srv.readLine())
	srv.handshake("KGB")
}

func TestSessionIdentifiesWithNickserv(t *testing.T) {
	cfg := sessionConfig()
	nc := cfg.Networks["testnet"]
	nc.NickservPassword = "nspass"
	cfg.Networks["testnet"] = nc

	_, srv := startSession(t, func() *config.Config { return cfg })
	require.Equal(t, "NICK KGB", srv.readLine())
	require.Equal(t, "USER kgb 0 * :KGB bot", srv.readLine())
	srv.send(":irc.example.org 001 KGB :Welcome")
	require.Equal(t, "PRIVMSG NickServ :IDENTIFY nspass", srv.readLine())
	require.Equal(t, "JOIN #commits", srv.readLine())
}

func TestSessionAnswersPing(t *testing.T) {
	cfg := sessionConfig()
	_, srv := startSession(t, func() *config.Config { return cfg })
	srv.handshake("KGB")

	srv.send("PING :irc.example.org")
	assert.Equal(t, "PONG irc.example.org", srv.readLine())
}

func TestSessionTransientNickAndReclaim(t *testing.T) {
	cfg := sessionConfig()
	s, srv := startSession(t, func() *config.Config { return cfg })

	require.Equal(t, "NICK KGB", srv.readLine())
	require.Equal(t, "USER kgb 0 * :KGB bot", srv.readLine())

	srv.send(":irc.example.org 433 * KGB :Nickname is already in use")
	require.Equal(t, "NICK KGB_", srv.readLine())

	srv.send(":irc.example.org 001 KGB_ :Welcome")
	require.Equal(t, "JOIN #commits", srv.readLine())
	assert.Equal(t, "KGB_", s.Nick())

	// The holder leaves; the desired nick is reclaimed immediately.
	srv.send(":KGB!someone@elsewhere QUIT :leaving")
	require.Equal(t, "NICK KGB", srv.readLine())

	srv.send(":KGB_!kgb@host NICK :KGB")
	srv.send("PING :sync")
	require.Equal(t, "PONG sync", srv.readLine())
	assert.Equal(t, "KGB", s.Nick())
}

func TestSessionDeliversQueuedMessages(t *testing.T) {
	cfg := sessionConfig()
	s, srv := startSession(t, func() *config.Config { return cfg })
	srv.handshake("KGB")

	s.Privmsg("#commits", []string{"first line", "second line"})
	assert.Equal(t, "PRIVMSG #commits :first line", srv.readLine())
	assert.Equal(t, "PRIVMSG #commits :second line", srv.readLine())
	assert.Zero(t, s.QueueDepth())
}

func TestSessionCTCPReplies(t *testing.T) {
	cfg := sessionConfig()
	_, srv := startSession(t, func() *config.Config { return cfg })
	srv.handshake("KGB")

	srv.send(":alice!a@host PRIVMSG KGB :\x01VERSION\x01")
	assert.Equal(t, "NOTICE alice :\x01VERSION KGB 1.2.3\x01", srv.readLine())

	srv.send(":alice!a@host PRIVMSG KGB :\x01SOURCE\x01")
	assert.Equal(t, "NOTICE alice :\x01SOURCE "+sourceURL+"\x01", srv.readLine())

	srv.send(":alice!a@host PRIVMSG KGB :\x01PING 12345\x01")
	assert.Equal(t, "NOTICE alice :\x01PING 12345\x01", srv.readLine())

	srv.send(":alice!a@host PRIVMSG KGB :\x01CLIENTINFO\x01")
	assert.Equal(t,
		"NOTICE alice :\x01CLIENTINFO VERSION USERINFO CLIENTINFO SOURCE PING\x01",
		srv.readLine())
}

func TestSessionVersionCommand(t *testing.T) {
	cfg := sessionConfig()
	_, srv := startSession(t, func() *config.Config { return cfg })
	srv.handshake("KGB")

	srv.send(":alice!a@host PRIVMSG #commits :KGB: !version")
	assert.Equal(t, "PRIVMSG #commits :Tried /CTCP KGB VERSION?", srv.readLine())
}

func TestSessionUnknownCommand(t *testing.T) {
	cfg := sessionConfig()
	_, srv := startSession(t, func() *config.Config { return cfg })
	srv.handshake("KGB")

	srv.send(":alice!a@host PRIVMSG #commits :KGB, !frobnicate now")
	assert.Equal(t, "PRIVMSG #commits :command 'frobnicate' is not known", srv.readLine())
}

func TestSessionIgnoresCommandsFromNonAdmins(t *testing.T) {
	cfg := sessionConfig()
	_, srv := startSession(t, func() *config.Config { return cfg })
	srv.handshake("KGB")

	srv.send(":mallory!m@host PRIVMSG #commits :KGB: !version")
	// The next answered line proves the command produced no reply.
	srv.send("PING :sync")
	assert.Equal(t, "PONG sync", srv.readLine())
}

func TestSessionSmartAnswer(t *testing.T) {
	cfg := sessionConfig()
	_, srv := startSession(t, func() *config.Config { return cfg })
	srv.handshake("KGB")

	srv.send(":mallory!m@host PRIVMSG #commits :kgb: are you alive?")
	assert.Equal(t, "PRIVMSG #commits What?", srv.readLine())

	// Private messages are implicitly addressed.
	srv.send(":mallory!m@host PRIVMSG KGB :hello there")
	assert.Equal(t, "PRIVMSG mallory What?", srv.readLine())
}

func TestSessionUnaddressedChannelChatterIgnored(t *testing.T) {
	cfg := sessionConfig()
	_, srv := startSession(t, func() *config.Config { return cfg })
	srv.handshake("KGB")

	srv.send(":mallory!m@host PRIVMSG #commits :just talking about KGB here")
	srv.send("PING :sync")
	assert.Equal(t, "PONG sync", srv.readLine())
}

func TestSessionSuppressesEchoedMessages(t *testing.T) {
	cfg := sessionConfig()
	s, srv := startSession(t, func() *config.Config { return cfg })
	srv.handshake("KGB")

	line := "<test> <alice> r1 (A)file"
	srv.send(":otherbot!b@host PRIVMSG #commits :" + line)
	srv.send("PING :sync")
	require.Equal(t, "PONG sync", srv.readLine())

	s.Privmsg("#commits", []string{line, "add file"})
	assert.Zero(t, s.QueueDepth())
	srv.expectSilence()
}

func TestSessionRejoinsAfterKick(t *testing.T) {
	cfg := sessionConfig()
	_, srv := startSession(t, func() *config.Config { return cfg })
	srv.handshake("KGB")

	srv.send(":op!o@host KICK #commits KGB :bye")
	assert.Equal(t, "JOIN #commits", srv.readLine())
}

func TestSessionJoinPartAndQuit(t *testing.T) {
	cfg := sessionConfig()
	s, srv := startSession(t, func() *config.Config { return cfg })
	srv.handshake("KGB")

	s.Join("#new")
	assert.Equal(t, "JOIN #new", srv.readLine())

	s.Part("#commits")
	assert.Equal(t, "PART #commits", srv.readLine())

	// A pipe write blocks until read, so the reader must be concurrent
	// with the bounded write in Quit.
	lines := make(chan string, 1)
	go func() { lines <- srv.readLine() }()
	s.Quit(QuitReason, time.Second)
	assert.Equal(t, "QUIT :KGB going to drink vodka", <-lines)
}
