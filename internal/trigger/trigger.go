package trigger

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/replicad/replicad/internal/activation"
	"github.com/replicad/replicad/internal/config"
	"github.com/replicad/replicad/internal/mirror"
)

// tokenHeader carries the shared secret on authenticated requests
const tokenHeader = "X-Replicad-Token"

// Runner executes one sync pass. Implemented by mirror.Engine.
type Runner interface {
	RunPass(ctx context.Context) (*mirror.PassResult, error)
}

// Server exposes an HTTP surface for operating the mirror on demand:
// POST /sync triggers an immediate pass, GET /status reports the outcome
// of the most recent one. At most one pass runs at a time; triggers that
// arrive while a pass is in flight coalesce into a single follow-up run.
type Server struct {
	cfg    *config.Config
	runner Runner
	logger *slog.Logger
	token  []byte

	syncMu      sync.Mutex // guards syncRunning and syncPending
	syncRunning bool       // whether a pass is currently in progress
	syncPending bool       // whether another pass is needed after the current one

	lastMu   sync.Mutex
	lastPass *passStatus
}

// passStatus is the JSON shape served by GET /status
type passStatus struct {
	FinishedAt time.Time `json:"finished_at"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Deleted    int       `json:"deleted"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// NewServer creates a new trigger server
func NewServer(cfg *config.Config, runner Runner, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		runner: runner,
		logger: logger,
	}

	// Load the auth token from file if configured
	if cfg.Serve.AuthTokenFile != "" {
		token, err := os.ReadFile(cfg.Serve.AuthTokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read auth token: %w", err)
		}
		s.token = []byte(strings.TrimSpace(string(token)))
	}

	return s, nil
}

// Start runs an initial sync pass and then serves HTTP until ctx is
// cancelled, at which point the server shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("performing initial sync before starting trigger server")
	s.performSync(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/status", s.handleStatus)

	server := &http.Server{
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	listener, err := activation.Listen(s.cfg.Serve.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Serve.ListenAddr, err)
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("trigger server starting", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down trigger server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleSync triggers an immediate sync pass
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.authorized(r) {
		s.logger.Warn("rejecting request with invalid token", "remote", r.RemoteAddr)
		http.Error(w, "Invalid token", http.StatusForbidden)
		return
	}

	s.logger.Info("sync triggered via HTTP", "remote", r.RemoteAddr)
	go s.performSync(context.Background())

	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, "Sync triggered\n")
}

// handleStatus reports the most recent pass result
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.authorized(r) {
		http.Error(w, "Invalid token", http.StatusForbidden)
		return
	}

	s.lastMu.Lock()
	last := s.lastPass
	s.lastMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if last == nil {
		_, _ = w.Write([]byte("{}\n"))
		return
	}
	if err := json.NewEncoder(w).Encode(last); err != nil {
		s.logger.Error("failed to encode status response", "error", err)
	}
}

// authorized verifies the shared token with a constant-time comparison.
// An empty configured token disables authentication.
func (s *Server) authorized(r *http.Request) bool {
	if len(s.token) == 0 {
		return true
	}
	provided := []byte(r.Header.Get(tokenHeader))
	return subtle.ConstantTimeCompare(provided, s.token) == 1
}

// performSync executes a sync pass with single-flight semantics. If a
// pass is already in progress, at most one additional run is queued;
// further concurrent triggers are dropped to avoid unbounded pile-up.
func (s *Server) performSync(ctx context.Context) {
	s.syncMu.Lock()
	if s.syncRunning {
		s.syncPending = true
		s.syncMu.Unlock()
		s.logger.Info("sync already in progress, queuing pending re-run")
		return
	}
	s.syncRunning = true
	s.syncMu.Unlock()

	for {
		result, err := s.runner.RunPass(ctx)
		s.recordPass(result, err)
		if err != nil {
			s.logger.Error("sync pass failed", "error", err)
		}

		// Atomically check whether another pass was requested while we
		// were running. If not, release the running slot and stop; if
		// yes, clear the flag and loop to service that pending request.
		s.syncMu.Lock()
		if !s.syncPending {
			s.syncRunning = false
			s.syncMu.Unlock()
			break
		}
		s.syncPending = false
		s.syncMu.Unlock()

		s.logger.Info("re-running sync due to pending trigger")
	}
}

// recordPass stores the outcome served by GET /status
func (s *Server) recordPass(result *mirror.PassResult, err error) {
	status := &passStatus{FinishedAt: time.Now()}
	if err != nil {
		status.Error = err.Error()
	}
	if result != nil {
		status.Created = result.Created
		status.Updated = result.Updated
		status.Deleted = result.Deleted
		status.Failed = len(result.Failed)
	}

	s.lastMu.Lock()
	s.lastPass = status
	s.lastMu.Unlock()
}
