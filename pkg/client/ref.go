// Package client implements the repository-side sender: it normalises
// and signs a commit, posts it to one of the configured KGB servers and
// fails over between them.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kgb-bot/kgb/internal/logger"
	"github.com/kgb-bot/kgb/pkg/protocol"
)

// DefaultTimeout bounds one complete attempt against one server.
const DefaultTimeout = 15 * time.Second

// defaultSession is the ?session= value servers expect by default.
const defaultSession = "KGB"

// ServerRef is one configured server endpoint. URI is the logical
// identity used in logs and error reports; Proxy is the actual HTTP
// endpoint posted to.
type ServerRef struct {
	URI      string
	Proxy    string
	Password string
	Timeout  time.Duration
	Verbose  bool

	httpClient *http.Client
}

// NewServerRef builds a ref with the default proxy and timeout.
func NewServerRef(uri, password string) *ServerRef {
	return &ServerRef{
		URI:      uri,
		Proxy:    uri + "?session=" + defaultSession,
		Password: password,
		Timeout:  DefaultTimeout,
	}
}

// SendCommit signs and posts one commit call. The request is normalised
// to UTF-8 and checksummed with this server's password before encoding.
// Any transport failure, non-2xx status or RPC fault is an error; an
// RPC fault comes back as a *protocol.Fault.
func (s *ServerRef) SendCommit(ctx context.Context, req *protocol.CommitRequest) error {
	r := *req
	r.Changes = append([]string(nil), req.Changes...)
	r.Normalize()
	if r.Version != protocol.VersionV0 {
		r.Checksum = protocol.ChecksumFor(&r, s.Password)
	} else {
		r.Password = s.Password
	}

	body, err := protocol.MarshalCall(protocol.MethodCommit, r.Args())
	if err != nil {
		return fmt.Errorf("encode commit: %w", err)
	}

	if s.Verbose {
		logger.Info("sending commit", "server", s.URI,
			logger.KeyRepo, r.RepoID, logger.KeyRevision, r.RevPrefix+r.Revision)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Proxy, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", s.URI, err)
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := s.client().Do(httpReq)
	if err != nil {
		return fmt.Errorf("post to %s: %w", s.URI, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response from %s: %w", s.URI, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server %s returned HTTP %d", s.URI, resp.StatusCode)
	}

	result, err := protocol.UnmarshalResponse(respBody)
	if err != nil {
		return fmt.Errorf("server %s: %w", s.URI, err)
	}
	if str, ok := result.(string); !ok || str != "OK" {
		return fmt.Errorf("server %s answered %v, want OK", s.URI, result)
	}
	return nil
}

func (s *ServerRef) client() *http.Client {
	if s.httpClient == nil {
		s.httpClient = &http.Client{}
	}
	return s.httpClient
}
