package rpc

import (
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kgb-bot/kgb/internal/format"
	"github.com/kgb-bot/kgb/internal/logger"
	"github.com/kgb-bot/kgb/internal/telemetry"
	"github.com/kgb-bot/kgb/pkg/commit"
	"github.com/kgb-bot/kgb/pkg/protocol"
)

// handleCommit runs one commit call end to end: decode, version gate,
// admission, authentication, format and fan-out, all synchronous with
// the request so backpressure stays observable by the client.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cfg := s.cfgFn()

	ctx, span := telemetry.StartSpan(r.Context(), telemetry.SpanCommit)
	defer span.End()
	r = r.WithContext(ctx)

	if r.URL.Query().Get("session") != cfg.RPC.ServiceName {
		s.metrics.CommitRejected("session")
		http.Error(w, "unknown session", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.fail(w, r, start, protocol.Faultf(protocol.FaultArguments, "unreadable request: %v", err))
		return
	}

	method, args, err := protocol.UnmarshalCall(body)
	if err != nil {
		s.fail(w, r, start, protocol.Faultf(protocol.FaultArguments, "%v", err))
		return
	}
	if method != protocol.MethodCommit {
		s.fail(w, r, start, protocol.Faultf(protocol.FaultArguments, "unknown method %q", method))
		return
	}

	req, err := protocol.ParseArgs(args)
	if err != nil {
		s.fail(w, r, start, asFault(err))
		return
	}

	if req.Version < cfg.RPC.MinProtocolVer {
		s.fail(w, r, start, protocol.Faultf(protocol.FaultArguments,
			"protocol version %d below configured minimum %d",
			req.Version, cfg.RPC.MinProtocolVer))
		return
	}

	if err := req.ValidateUTF8(); err != nil {
		s.fail(w, r, start, asFault(err))
		return
	}

	if backlog := s.relay.Backlog(); backlog > cfg.RPC.QueueLimit {
		logger.Warn("irc backlog saturated, refusing commit",
			logger.KeyRequestID, requestID(r),
			logger.KeyRepo, req.RepoID,
			logger.KeyQueue, backlog)
		s.fail(w, r, start, protocol.Faultf(protocol.FaultSlowdown,
			"msg queue full (%d)", backlog))
		return
	}

	repo, ok := cfg.Repositories[req.RepoID]
	if !ok {
		s.fail(w, r, start, protocol.Faultf(protocol.FaultArguments,
			"unknown repository %q", req.RepoID))
		return
	}

	if err := authenticate(req, repo.Password); err != nil {
		logger.Warn("commit authentication failed",
			logger.KeyRequestID, requestID(r),
			logger.KeyRepo, req.RepoID,
			logger.KeyProto, req.Version)
		s.fail(w, r, start, asFault(err))
		return
	}

	changes, err := commit.ParseChanges(req.Changes)
	if err != nil {
		s.fail(w, r, start, protocol.Faultf(protocol.FaultArguments, "%v", err))
		return
	}

	telemetry.SetAttributes(ctx,
		attribute.String(telemetry.AttrRepo, req.RepoID),
		attribute.String(telemetry.AttrRevision, req.RevPrefix+req.Revision),
		attribute.Int(telemetry.AttrProto, req.Version))

	delivered := s.relay.Dispatch(cfg, req.RepoID, &format.Notification{
		Repo:      req.RepoID,
		Author:    req.Author,
		Branch:    deref(req.Branch),
		Module:    deref(req.Module),
		RevPrefix: req.RevPrefix,
		Revision:  req.Revision,
		Changes:   changes,
		Log:       req.Log,
	})

	logger.Info("commit relayed",
		logger.KeyRequestID, requestID(r),
		logger.KeyRepo, req.RepoID,
		logger.KeyRevision, req.RevPrefix+req.Revision,
		logger.KeyProto, req.Version,
		"channels", delivered)
	s.metrics.CommitReceived(fmt.Sprintf("%d", req.Version))
	s.metrics.SetIRCQueueDepth(s.relay.Backlog())
	s.metrics.ObserveRPCDuration("ok", time.Since(start))

	body, err = protocol.MarshalResponse("OK")
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.respond(w, body)
}

// authenticate applies the per-version rule: constant-time password
// compare for v0, checksum recomputation for v1 and v2. An empty
// configured password disables the v0 compare.
func authenticate(req *protocol.CommitRequest, password string) error {
	switch req.Version {
	case protocol.VersionV0:
		if password == "" {
			return nil
		}
		if subtle.ConstantTimeCompare([]byte(req.Password), []byte(password)) != 1 {
			return protocol.Faultf(protocol.FaultArguments, "authentication failed")
		}
	default:
		want := protocol.ChecksumFor(req, password)
		if subtle.ConstantTimeCompare([]byte(req.Checksum), []byte(want)) != 1 {
			return protocol.Faultf(protocol.FaultArguments, "authentication failed")
		}
	}
	return nil
}

// fail writes a fault envelope. XML-RPC faults travel over HTTP 200.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, start time.Time, f *protocol.Fault) {
	telemetry.RecordError(r.Context(), f)
	telemetry.SetAttributes(r.Context(), attribute.String(telemetry.AttrFault, f.Code))
	logger.Debug("commit refused",
		logger.KeyRequestID, requestID(r),
		logger.KeyError, f)
	s.metrics.CommitRejected(rejectReason(f))
	s.metrics.ObserveRPCDuration("fault", time.Since(start))

	body, err := protocol.MarshalFault(f)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.respond(w, body)
}

func (s *Server) respond(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func asFault(err error) *protocol.Fault {
	if f, ok := err.(*protocol.Fault); ok {
		return f
	}
	return protocol.Faultf(protocol.FaultArguments, "%v", err)
}

func rejectReason(f *protocol.Fault) string {
	if f.Code == protocol.FaultSlowdown {
		return "slowdown"
	}
	return "arguments"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
