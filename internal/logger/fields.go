package logger

// Standard field keys. Used consistently across the codebase so log
// lines aggregate cleanly.
const (
	// Ingress
	KeyRequestID = "request_id" // per-RPC-call correlation id
	KeyClientIP  = "client_ip"  // remote address of the RPC caller
	KeyProto     = "proto"      // wire protocol version (0, 1, 2)
	KeyRepo      = "repo"       // repository id of a commit
	KeyRevision  = "revision"   // revision string of a commit

	// IRC
	KeyNetwork = "network" // IRC network name from the config
	KeyChannel = "channel" // IRC channel, with leading #
	KeyNick    = "nick"    // current bot nick on a session
	KeyQueue   = "queue"   // pending PRIVMSG lines on a session

	// Generic
	KeyError    = "error"
	KeyDuration = "duration_ms"
)
