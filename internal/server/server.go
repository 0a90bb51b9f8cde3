// Package server implements the forward-auth HTTP service. A reverse proxy
// sends each incoming request's Authorization header to GET /authorize;
// a 200 answer carries the authorization context in response headers for
// the proxy to copy upstream, and a 401 answer is returned to the client.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/StricklySoft/authorizer/pkg/auth"
	sserr "github.com/StricklySoft/authorizer/pkg/errors"
)

// Headers read and written by the service.
const (
	HeaderRequestID             = "X-Request-Id"
	HeaderAuthorizedTenant      = "X-Authorized-Tenant"
	HeaderAuthorizedPermissions = "X-Authorized-Permissions"
)

// maxRequestIDLength caps caller-supplied request IDs; longer ones are
// replaced with a generated ID.
const maxRequestIDLength = 128

// Server is the forward-auth service. Create one with [New] and call
// [Server.Run] once.
type Server struct {
	cfg    Config
	authz  *auth.Authorizer
	logger *slog.Logger
	srv    *http.Server

	mu    sync.RWMutex
	state State
	addr  net.Addr
}

// New creates a server answering with authz.
func New(cfg Config, authz *auth.Authorizer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		authz:  authz,
		logger: logger,
		state:  StateIdle,
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s
}

// Handler returns the service's HTTP routes wrapped in request-ID
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return requestID(mux)
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Addr returns the bound listen address once the server is serving, or ""
// before that.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

func (s *Server) setState(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ValidTransition(s.state, to) {
		return sserr.Newf(sserr.CodeInternal, "server: invalid state transition from %q to %q", s.state, to)
	}
	s.logger.Debug("server: state change", "from", s.state, "to", to)
	s.state = to
	return nil
}

// Run listens on the configured address and serves until ctx is done, then
// shuts down gracefully within ShutdownTimeout. It returns nil after a
// clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	if err := s.setState(StateStarting); err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		_ = s.setState(StateFailed)
		return sserr.Wrapf(err, sserr.CodeInternal, "server: failed to listen on %s", s.cfg.Addr)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	if err := s.setState(StateServing); err != nil {
		_ = ln.Close()
		return err
	}
	s.logger.InfoContext(ctx, "server: listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		_ = s.setState(StateFailed)
		return sserr.Wrap(err, sserr.CodeInternal, "server: serve failed")
	case <-ctx.Done():
	}

	_ = s.setState(StateDraining)
	s.logger.Info("server: shutting down", "timeout", s.cfg.ShutdownTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		_ = s.setState(StateFailed)
		return sserr.Wrap(err, sserr.CodeInternal, "server: graceful shutdown failed")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = s.setState(StateFailed)
		return sserr.Wrap(err, sserr.CodeInternal, "server: serve failed")
	}

	_ = s.setState(StateStopped)
	s.logger.Info("server: stopped")
	return nil
}

// handleAuthorize answers a forward-auth subrequest.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	authz, err := auth.AuthorizeRequest(s.authz, r)
	if err != nil {
		auth.WriteUnauthorized(w)
		return
	}

	h := w.Header()
	h.Set(HeaderAuthorizedTenant, authz.AuthorizedTenant)
	h.Set(HeaderAuthorizedPermissions, authz.AuthorizedPermissions)
	writeJSON(w, http.StatusOK, authz)
}

type healthResponse struct {
	Status     string `json:"status"`
	CachedKeys int    `json:"cached_keys"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.State()
	code := http.StatusOK
	if state != StateServing {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:     state.String(),
		CachedKeys: s.authz.Resolver().Len(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// requestID propagates the caller's X-Request-Id, or a new UUID when the
// header is absent or oversized, into the request context and response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(auth.ContextWithRequestID(r.Context(), id)))
	})
}
