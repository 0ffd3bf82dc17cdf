// Package rpc is the commit ingress: an HTTP server carrying the
// XML-RPC "commit" method, with authentication and admission control in
// front of the formatter and fan-out.
package rpc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kgb-bot/kgb/internal/logger"
	"github.com/kgb-bot/kgb/internal/relay"
	"github.com/kgb-bot/kgb/pkg/config"
	"github.com/kgb-bot/kgb/pkg/metrics"
)

// maxRequestBody bounds one commit envelope.
const maxRequestBody = 1 << 20

// Server owns the ingress listener. The config is re-read through cfgFn
// on every request, so reloads apply without a rebind as long as the
// bind itself is unchanged.
type Server struct {
	cfgFn   func() *config.Config
	relay   *relay.Relay
	metrics *metrics.Metrics

	http *http.Server
}

// NewServer wires the ingress to the relay. metrics may be nil.
func NewServer(cfgFn func() *config.Config, r *relay.Relay, m *metrics.Metrics) *Server {
	s := &Server{cfgFn: cfgFn, relay: r, metrics: m}

	router := chi.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(recoveryMiddleware)
	router.Use(loggingMiddleware)
	router.Post("/", s.handleCommit)
	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	cfg := cfgFn()
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.RPC.Addr, fmt.Sprintf("%d", cfg.RPC.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc ingress listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler exposes the router, for tests driving it without a listener.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

type ctxKey int

const requestIDKey ctxKey = 0

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic in rpc handler",
					logger.KeyRequestID, requestID(r), "panic", rec)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("rpc request",
			logger.KeyRequestID, requestID(r),
			logger.KeyClientIP, r.RemoteAddr,
			"method", r.Method,
			"path", r.URL.Path,
			logger.KeyDuration, time.Since(start))
	})
}
