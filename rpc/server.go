package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nondejus/lbrycrd/core"
	"github.com/nondejus/lbrycrd/observability/metrics"
)

// Config carries the serving policy for a Server.
type Config struct {
	// AuthToken guards the block ingestion methods. When empty,
	// submitblock and generateblock are refused outright.
	AuthToken string
	// DeprecatedRPC lists deprecated method names the operator has
	// explicitly re-enabled.
	DeprecatedRPC []string
	// Policy throttles methods per client source. The zero value
	// imposes no limits.
	Policy Policy
}

// Server exposes the claim query surface over JSON-RPC, on plain HTTP
// POST and on a websocket transport carrying the same dialect.
type Server struct {
	node       *core.Node
	logger     *slog.Logger
	metrics    *metrics.ClaimtrieMetrics
	authToken  string
	deprecated map[string]bool
	limiter    *methodLimiter
	httpSrv    *http.Server
}

// NewServer wires a server around node. A nil logger falls back to the
// process default.
func NewServer(node *core.Node, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	deprecated := make(map[string]bool, len(cfg.DeprecatedRPC))
	for _, method := range cfg.DeprecatedRPC {
		if method = strings.TrimSpace(method); method != "" {
			deprecated[method] = true
		}
	}
	s := &Server{
		node:       node,
		logger:     logger,
		metrics:    metrics.Claimtrie(),
		authToken:  strings.TrimSpace(cfg.AuthToken),
		deprecated: deprecated,
		limiter:    newMethodLimiter(cfg.Policy),
	}
	s.httpSrv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router assembles the HTTP surface: JSON-RPC on POST /, the websocket
// transport on /ws, liveness on /healthz and Prometheus on /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handleRPC)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve runs the server on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())
	if err := s.httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeResponse(w, status, errorResponse(nil, codeInvalidRequest, message, nil))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeResponse(w, http.StatusBadRequest, errorResponse(nil, codeInvalidRequest, "request body required", nil))
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeResponse(w, http.StatusBadRequest, errorResponse(nil, codeParseError, "invalid JSON payload", err.Error()))
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeResponse(w, http.StatusBadRequest, errorResponse(req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC))
		return
	}
	if req.Method == "" {
		writeResponse(w, http.StatusBadRequest, errorResponse(req.ID, codeInvalidRequest, "method required", nil))
		return
	}

	source := clientSource(r)
	if !s.limiter.allow(source, req.Method) {
		writeResponse(w, http.StatusTooManyRequests, errorResponse(req.ID, codeRateLimited, "rate limit exceeded", source))
		return
	}

	resp, status := s.dispatch(r.Context(), req, s.isAuthed(r))
	writeResponse(w, status, resp)
}

// isAuthed reports whether the request carries the configured bearer
// token. With no token configured nothing authenticates.
func (s *Server) isAuthed(r *http.Request) bool {
	if s.authToken == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if candidate := strings.TrimSpace(parts[0]); candidate != "" {
			return candidate
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
