// Package protocol implements the KGB wire contract: the XML-RPC
// envelope carrying the single "commit" method, the positional argument
// layouts of protocol versions 0, 1 and 2, the SHA1 authentication
// checksum, and the UTF-8 normalisation rules both sides must agree on.
package protocol

import (
	"fmt"
)

// MethodCommit is the only remote method KGB exposes.
const MethodCommit = "commit"

// Protocol versions understood by the server. Version 0 is the legacy
// cleartext-password layout and is rejected unless the server is
// configured with min_protocol_ver <= 0.
const (
	VersionV0 = 0
	VersionV1 = 1
	VersionV2 = 2
	MaxVersion = VersionV2
)

// Fault codes returned to the client.
const (
	// FaultArguments covers unknown repositories, bad arity, unknown
	// protocol versions, non-UTF-8 payloads and authentication failure.
	FaultArguments = "Client.Arguments"

	// FaultSlowdown signals that the IRC send backlog is saturated.
	// The client should treat it as retryable on another server.
	FaultSlowdown = "Client.Slowdown"
)

// Fault is an RPC-level failure, serialised as a fault envelope on the
// wire. It doubles as the error value seen by the client driver.
type Fault struct {
	Code   string
	Reason string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Reason)
}

// Faultf builds a Fault with a formatted reason.
func Faultf(code, format string, args ...any) *Fault {
	return &Fault{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// CommitRequest is the decoded argument list of one commit call,
// version differences normalised away. Branch and Module are nil when
// the client sent null (they are then excluded from the checksum).
type CommitRequest struct {
	Version   int
	RepoID    string
	Checksum  string // v1/v2 authentication digest
	Password  string // v0 cleartext password
	RevPrefix string // v2 only; not part of the checksum
	Revision  string
	Changes   []string
	Log       string
	Author    string
	Branch    *string
	Module    *string
}

// Args encodes the request back into the positional argument list for
// its protocol version. It is the exact inverse of ParseArgs.
func (r *CommitRequest) Args() []any {
	changes := make([]any, len(r.Changes))
	for i, c := range r.Changes {
		changes[i] = c
	}
	switch r.Version {
	case VersionV0:
		return []any{r.RepoID, r.Password, r.Revision, changes, r.Log, r.Author}
	case VersionV1:
		return []any{VersionV1, r.RepoID, r.Checksum, r.Revision, changes,
			r.Log, r.Author, optString(r.Branch), optString(r.Module)}
	default:
		return []any{VersionV2, r.RepoID, r.Checksum, r.RevPrefix, r.Revision,
			changes, r.Log, r.Author, optString(r.Branch), optString(r.Module)}
	}
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// ParseArgs discriminates the protocol version of a positional argument
// list and binds the fields.
//
// Per the wire contract: when the first argument is not an integer, or
// the list has exactly 6 entries, the call is treated as v0. Otherwise
// the first argument is the protocol version and is shifted off. The
// caller still has to gate the version against its configured minimum.
func ParseArgs(args []any) (*CommitRequest, error) {
	ver, isInt := asInt(firstArg(args))
	if !isInt || len(args) == 6 {
		return parseV0(args)
	}
	rest := args[1:]
	switch ver {
	case VersionV1:
		return parseV1(rest)
	case VersionV2:
		return parseV2(rest)
	default:
		return nil, Faultf(FaultArguments, "unknown protocol version %d", ver)
	}
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

func parseV0(args []any) (*CommitRequest, error) {
	if len(args) != 6 {
		return nil, Faultf(FaultArguments, "protocol v0 expects 6 arguments, got %d", len(args))
	}
	r := &CommitRequest{Version: VersionV0}
	var err error
	if r.RepoID, err = argString(args, 0, "repo_id"); err != nil {
		return nil, err
	}
	if r.Password, err = argString(args, 1, "password"); err != nil {
		return nil, err
	}
	if r.Revision, err = argString(args, 2, "revision"); err != nil {
		return nil, err
	}
	if r.Changes, err = argStrings(args, 3, "changes"); err != nil {
		return nil, err
	}
	if r.Log, err = argString(args, 4, "log"); err != nil {
		return nil, err
	}
	if r.Author, err = argString(args, 5, "author"); err != nil {
		return nil, err
	}
	return r, validateUTF8(r)
}

func parseV1(args []any) (*CommitRequest, error) {
	if len(args) != 8 {
		return nil, Faultf(FaultArguments, "protocol v1 expects 9 arguments, got %d", len(args)+1)
	}
	r := &CommitRequest{Version: VersionV1}
	if err := bindCommon(r, args, false); err != nil {
		return nil, err
	}
	return r, validateUTF8(r)
}

func parseV2(args []any) (*CommitRequest, error) {
	if len(args) != 9 {
		return nil, Faultf(FaultArguments, "protocol v2 expects 10 arguments, got %d", len(args)+1)
	}
	r := &CommitRequest{Version: VersionV2}
	if err := bindCommon(r, args, true); err != nil {
		return nil, err
	}
	return r, validateUTF8(r)
}

// bindCommon binds the shared v1/v2 tail: repo_id, checksum,
// [rev_prefix,] revision, changes, log, author, branch, module.
func bindCommon(r *CommitRequest, args []any, withPrefix bool) error {
	i := 0
	var err error
	if r.RepoID, err = argString(args, i, "repo_id"); err != nil {
		return err
	}
	i++
	if r.Checksum, err = argString(args, i, "checksum"); err != nil {
		return err
	}
	i++
	if withPrefix {
		if r.RevPrefix, err = argString(args, i, "rev_prefix"); err != nil {
			return err
		}
		i++
	}
	if r.Revision, err = argString(args, i, "revision"); err != nil {
		return err
	}
	i++
	if r.Changes, err = argStrings(args, i, "changes"); err != nil {
		return err
	}
	i++
	if r.Log, err = argString(args, i, "log"); err != nil {
		return err
	}
	i++
	if r.Author, err = argString(args, i, "author"); err != nil {
		return err
	}
	i++
	if r.Branch, err = argOptString(args, i, "branch"); err != nil {
		return err
	}
	i++
	if r.Module, err = argOptString(args, i, "module"); err != nil {
		return err
	}
	return nil
}

func argString(args []any, i int, name string) (string, error) {
	s, ok := args[i].(string)
	if !ok {
		return "", Faultf(FaultArguments, "argument %q must be a string", name)
	}
	return s, nil
}

func argOptString(args []any, i int, name string) (*string, error) {
	if args[i] == nil {
		return nil, nil
	}
	s, ok := args[i].(string)
	if !ok {
		return nil, Faultf(FaultArguments, "argument %q must be a string or null", name)
	}
	return &s, nil
}

func argStrings(args []any, i int, name string) ([]string, error) {
	list, ok := args[i].([]any)
	if !ok {
		return nil, Faultf(FaultArguments, "argument %q must be an array", name)
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, Faultf(FaultArguments, "argument %q must contain only strings", name)
		}
		out = append(out, s)
	}
	return out, nil
}
