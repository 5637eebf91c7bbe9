// Package contentserver serves lesson documents from a directory of JSON
// files over the automation HTTP contract used by editing sessions.
package contentserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lessonsync/internal/contentapi"
	"lessonsync/internal/health"
	"lessonsync/internal/logging"
	"lessonsync/internal/metrics"
	"lessonsync/internal/ratelimit"
	"lessonsync/internal/schemavalidation"
)

const (
	// DefaultMaxBodyBytes caps PUT bodies.
	DefaultMaxBodyBytes = 4 << 20
	// DefaultTokenLockout is how long a client stays locked out after too
	// many wrong tokens.
	DefaultTokenLockout = time.Minute
)

// Config configures a Server.
type Config struct {
	// Root is the directory holding the documents.
	Root string
	// Token, when set, must be sent in the X-Teacher-Token header.
	Token string
	// Schema, when set, validates every saved document.
	Schema       *schemavalidation.Validator
	MaxBodyBytes int64
	Logger       *logging.Logger
	// Health is mounted at /healthz and /livez when set.
	Health *health.Checker
	// SaveRate limits saves per client per second. Zero disables it.
	SaveRate  float64
	SaveBurst int
	// MaxTokenFailures locks a client out for TokenLockout after that many
	// wrong tokens. Zero disables the lockout.
	MaxTokenFailures int
	TokenLockout     time.Duration
	// Metrics is served at /metrics. A private set is used when nil.
	Metrics *metrics.Content
	Now     func() time.Time
}

// Server is the reference automation service.
type Server struct {
	root     string
	token    string
	schema   *schemavalidation.Validator
	maxBody  int64
	logger   *logging.Logger
	checker  *health.Checker
	metrics  *metrics.Content
	saves    *ratelimit.Keyed
	lockout  *ratelimit.Lockout
	now      func() time.Time
	handler  http.Handler
	writeMu  sync.Mutex
	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

// New creates a Server. The root directory is created if missing.
func New(cfg Config) (*Server, error) {
	if cfg.Root == "" {
		return nil, errors.New("contentserver: root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("contentserver: resolve root: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("contentserver: create root: %w", err)
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return nil, fmt.Errorf("contentserver: resolve root: %w", err)
	}

	s := &Server{
		root:    root,
		token:   cfg.Token,
		schema:  cfg.Schema,
		maxBody: cfg.MaxBodyBytes,
		logger:  cfg.Logger,
		checker: cfg.Health,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.WithComponent("contentserver")
	if s.now == nil {
		s.now = time.Now
	}
	if s.metrics == nil {
		s.metrics = metrics.NewContent()
	}
	if cfg.SaveRate > 0 {
		s.saves = ratelimit.NewKeyed(cfg.SaveRate, cfg.SaveBurst, 10*time.Minute)
	}
	if s.token != "" && cfg.MaxTokenFailures > 0 {
		lockFor := cfg.TokenLockout
		if lockFor <= 0 {
			lockFor = DefaultTokenLockout
		}
		s.lockout = ratelimit.NewLockout(cfg.MaxTokenFailures, lockFor, 10*time.Minute)
	}

	mux := http.NewServeMux()
	mux.Handle(contentapi.Endpoint, s.requireToken(http.HandlerFunc(s.handleContent)))
	if s.checker != nil {
		mux.Handle("/healthz", s.checker.Handler())
		mux.Handle("/livez", health.LiveHandler())
	}
	mux.Handle("/metrics", s.metrics.Registry.HTTPHandler())
	s.handler = s.withRequestID(mux)
	return s, nil
}

// Root returns the absolute content directory.
func (s *Server) Root() string {
	return s.root
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *metrics.Content {
	return s.metrics
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return errors.New("contentserver: already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "error", err)
		}
	}()
	s.logger.Info("content server listening", "addr", ln.Addr().String(), "root", s.root)
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
