// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/config"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/audit"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/crypto"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/sanitize"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/taint"
)

// ============================================================================
// CONSTANTS
// ============================================================================

// Version is reported by /health. main overrides it at build time.
var Version = "0.1.0"

// Routes.
const (
	PathHealth           = "/health"
	PathStats            = "/stats"
	PathEncryptionStatus = "/v1/encryption/status"
	PathEncrypt          = "/v1/encrypt"
	PathDecrypt          = "/v1/decrypt"
	PathEcho             = "/v1/echo"
	PathSanitizeHTML     = "/v1/sanitize/html"
	PathSanitizeURL      = "/v1/sanitize/url"
	PathValidateUpload   = "/v1/uploads/validate"
)

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats counts boundary decisions.
type Stats struct {
	totalRequests atomic.Int64
	omitted       atomic.Int64
	startTime     time.Time

	mu         sync.Mutex
	rejections map[string]int64
}

// StatsSnapshot is the JSON view of Stats.
type StatsSnapshot struct {
	TotalRequests   int64            `json:"total_requests"`
	Rejected        int64            `json:"rejected"`
	RejectedBy      map[string]int64 `json:"rejected_by_reason"`
	ResponsesPruned int64            `json:"responses_data_omitted"`
	UptimeSeconds   int64            `json:"uptime_seconds"`
}

// NewStats creates an empty Stats starting now.
func NewStats() *Stats {
	return &Stats{startTime: time.Now(), rejections: make(map[string]int64)}
}

// RecordRequest counts one request.
func (s *Stats) RecordRequest() { s.totalRequests.Add(1) }

// RecordOmitted counts one response whose data was withheld.
func (s *Stats) RecordOmitted() { s.omitted.Add(1) }

// RecordRejection counts one boundary rejection by reason.
func (s *Stats) RecordRejection(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections[reason]++
}

// Snapshot returns a consistent copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		TotalRequests:   s.totalRequests.Load(),
		RejectedBy:      make(map[string]int64, len(s.rejections)),
		ResponsesPruned: s.omitted.Load(),
		UptimeSeconds:   int64(time.Since(s.startTime).Seconds()),
	}
	for reason, n := range s.rejections {
		snap.RejectedBy[reason] = n
		snap.Rejected += n
	}
	return snap
}

// ============================================================================
// SERVER
// ============================================================================

// Server hosts the security boundary behind a small JSON API.
type Server struct {
	cfg       *config.Config
	encryptor *crypto.Encryptor
	scanner   *taint.Scanner
	html      sanitize.HTMLSanitizer
	audit     audit.Logger
	ownsAudit bool
	logger    *log.Logger
	limiter   *RateLimiter
	stats     *Stats

	router  *http.ServeMux
	handler http.Handler

	mu     sync.Mutex
	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithEncryptor overrides the encryptor built from the configured key.
func WithEncryptor(e *crypto.Encryptor) Option {
	return func(s *Server) { s.encryptor = e }
}

// WithScanner overrides the scanner built from the configured policy.
func WithScanner(sc *taint.Scanner) Option {
	return func(s *Server) { s.scanner = sc }
}

// WithAuditLogger overrides the configured audit trail. The caller keeps
// ownership and closes it.
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Server) { s.audit = l }
}

// WithLogger sets the operational logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds a server from cfg. Components not supplied through options are
// created from the configuration.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg.Clone(),
		router: http.NewServeMux(),
		stats:  NewStats(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.encryptor == nil {
		s.encryptor = crypto.NewEncryptor(cfg.Encryption.Key)
	}
	if s.scanner == nil {
		policy, err := cfg.LoadTaintPolicy()
		if err != nil {
			return nil, fmt.Errorf("failed to build taint policy: %w", err)
		}
		s.scanner = taint.NewScanner(
			taint.WithPolicy(policy),
			taint.WithMaxDepth(cfg.Taint.MaxDepth),
			taint.WithProduction(cfg.IsProduction()),
			taint.WithLogger(s.logger),
		)
	}
	s.html = sanitize.NewHTMLSanitizer(cfg.SanitizePolicy())
	if s.audit == nil {
		if cfg.Audit.Enabled {
			fl, err := audit.NewFileLogger(cfg.Audit.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to open audit log: %w", err)
			}
			fl.SetOnFailure(func(err error) {
				s.logger.Printf("AUDIT_WRITE_FAILED | error=%v", err)
			})
			s.audit = fl
			s.ownsAudit = true
		} else {
			s.audit = audit.NewNopLogger()
		}
	}
	if cfg.Server.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	if !s.encryptor.IsAvailable() {
		st := s.encryptor.Status()
		s.logger.Printf("ENCRYPTION_UNAVAILABLE | configured=%t key_length=%d", st.Configured, st.KeyLength)
	}

	s.setupRoutes()
	s.handler = s.buildHandler()
	return s, nil
}

// Scanner returns the live scanner.
func (s *Server) Scanner() *taint.Scanner { return s.scanner }

// Stats returns the server counters.
func (s *Server) Stats() *Stats { return s.stats }

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET "+PathHealth, s.handleHealth)
	s.router.HandleFunc("GET "+PathStats, s.handleStats)

	s.router.HandleFunc("GET "+PathEncryptionStatus, s.handleEncryptionStatus)
	s.router.HandleFunc("POST "+PathEncrypt, s.handleEncrypt)
	s.router.HandleFunc("POST "+PathDecrypt, s.handleDecrypt)

	s.router.HandleFunc("POST "+PathEcho, s.handleEcho)
	s.router.HandleFunc("POST "+PathSanitizeHTML, s.handleSanitizeHTML)
	s.router.HandleFunc("POST "+PathSanitizeURL, s.handleSanitizeURL)
	s.router.HandleFunc("POST "+PathValidateUpload, s.handleValidateUpload)
}

// buildHandler wraps the router. The boundary runs innermost so every
// rejection is logged with its request ID and status.
func (s *Server) buildHandler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.logger),
		RequestIDMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		s.countRequests,
	}
	if s.limiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter, s.logger))
	}
	middlewares = append(middlewares, BoundaryMiddleware(BoundaryConfig{
		Scanner:      s.scanner,
		Audit:        s.audit,
		Stats:        s.stats,
		Logger:       s.logger,
		RawBodyPaths: []string{PathSanitizeHTML, PathSanitizeURL},
	}))
	return Chain(middlewares...)(s.router)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.stats.RecordRequest()
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Run serves until ctx is cancelled, then shuts down gracefully. When a
// policy file is configured it is watched and reloaded for the lifetime
// of the server.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.handler,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSecs) * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	if s.cfg.Taint.PolicyFile != "" {
		watcher, err := s.watchPolicy(ctx)
		if err != nil {
			return err
		}
		defer watcher.Close()
	}

	s.logEvent(audit.EventStartup, map[string]string{
		"addr":        s.cfg.Server.Addr,
		"environment": s.cfg.Environment,
		"encryption":  fmt.Sprintf("%t", s.encryptor.IsAvailable()),
	})
	s.logger.Printf("SERVER_START | addr=%s version=%s env=%s", s.cfg.Server.Addr, Version, s.cfg.Environment)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(s.cfg.Server.ShutdownTimeoutSecs)*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	snap := s.stats.Snapshot()
	for _, reason := range sortedKeys(snap.RejectedBy) {
		s.logger.Printf("REJECTION_TOTAL | reason=%s count=%d", reason, snap.RejectedBy[reason])
	}
	s.logEvent(audit.EventShutdown, map[string]string{
		"requests": fmt.Sprintf("%d", snap.TotalRequests),
		"rejected": fmt.Sprintf("%d", snap.Rejected),
	})
	return srv.Shutdown(ctx)
}

// Close releases the audit log if the server opened it.
func (s *Server) Close() error {
	if s.ownsAudit {
		return s.audit.Close()
	}
	return nil
}

func (s *Server) watchPolicy(ctx context.Context) (*config.PolicyWatcher, error) {
	watcher, err := config.NewPolicyWatcher(s.cfg, 0,
		func(p *taint.Policy) {
			s.scanner.SetPolicy(p)
			s.logger.Printf("POLICY_RELOADED | file=%s keys=%d rules=%d", s.cfg.Taint.PolicyFile, len(p.DangerousKeys()), len(p.Rules()))
			s.logEvent(audit.EventPolicyReloaded, map[string]string{"file": s.cfg.Taint.PolicyFile})
		},
		func(err error) {
			s.logger.Printf("POLICY_RELOAD_FAILED | file=%s error=%v", s.cfg.Taint.PolicyFile, err)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy watcher: %w", err)
	}
	if err := watcher.Watch(ctx); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch policy file: %w", err)
	}
	return watcher, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Server) logEvent(eventType string, metadata map[string]string) {
	if err := s.audit.LogEvent(eventType, metadata); err != nil {
		s.logger.Printf("AUDIT_WRITE_FAILED | event=%s error=%v", eventType, err)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a generic failure in the SafeResponse shape.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, taint.SafeResponse{Success: false, Message: message})
}

// sortedKeys is used for deterministic log output.
func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
