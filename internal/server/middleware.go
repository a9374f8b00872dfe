// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/security"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/audit"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/taint"
)

// ============================================================================
// Request ID Middleware
// ============================================================================

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFromContext returns the ID assigned by RequestIDMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware assigns every request a UUID. A well-formed incoming
// X-Request-ID is kept; anything else is replaced so clients cannot inject
// arbitrary text into logs.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if parsed, err := uuid.Parse(id); err == nil {
				id = parsed.String()
			} else {
				id = uuid.NewString()
			}

			w.Header().Set(RequestIDHeader, id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ============================================================================
// Boundary Middleware
// ============================================================================

// BoundaryConfig configures BoundaryMiddleware.
type BoundaryConfig struct {
	Scanner *taint.Scanner
	Audit   audit.Logger
	Stats   *Stats
	Logger  *log.Logger

	// RawBodyPaths are routes whose bodies are size-capped and header-checked
	// but not content-scanned, because the handler neutralises the content
	// itself (the sanitizer endpoints).
	RawBodyPaths []string
}

// BoundaryMiddleware applies the inbound security boundary to every request:
// forbidden transport headers are refused, bodies are capped at
// taint.MaxBodyBytes before parsing, and JSON bodies are scanned for
// pollution gadgets. Rejections are audited in full and answered with a
// generic message only. Accepted bodies are restored for the handler.
func BoundaryMiddleware(cfg BoundaryConfig) func(http.Handler) http.Handler {
	if cfg.Audit == nil {
		cfg.Audit = audit.NewNopLogger()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	raw := make(map[string]bool, len(cfg.RawBodyPaths))
	for _, p := range cfg.RawBodyPaths {
		raw[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body []byte
			if r.Body != nil && r.Body != http.NoBody {
				data, err := io.ReadAll(io.LimitReader(r.Body, taint.MaxBodyBytes+1))
				r.Body.Close()
				if err != nil {
					reject(w, r, cfg, security.NewRejection(security.ErrFormat, taint.ReasonInvalidFormat, taint.MsgInvalidFormat))
					return
				}
				body = data
			}

			var rej *security.Rejection
			switch {
			case len(body) > taint.MaxBodyBytes:
				rej = security.NewRejection(security.ErrFormat, taint.ReasonBodyTooLarge, taint.MsgTooLarge)
			case raw[r.URL.Path] || len(body) == 0:
				rej = cfg.Scanner.CheckRequestSecurity(r.Header, nil)
			default:
				rej = cfg.Scanner.CheckRequestSecurity(r.Header, body)
			}
			if rej != nil {
				reject(w, r, cfg, rej)
				return
			}

			if body != nil {
				r.Body = io.NopCloser(bytes.NewReader(body))
				r.ContentLength = int64(len(body))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, cfg BoundaryConfig, rej *security.Rejection) {
	id := RequestIDFromContext(r.Context())
	ip := GetClientIP(r)

	cfg.Logger.Printf("BOUNDARY_REJECT | id=%s ip=%s path=%s reason=%s", id, ip, r.URL.Path, rej.Reason)
	if err := cfg.Audit.LogRejection(id, ip, rej); err != nil {
		cfg.Logger.Printf("AUDIT_WRITE_FAILED | id=%s error=%v", id, err)
	}
	if cfg.Stats != nil {
		cfg.Stats.RecordRejection(rej.Reason)
	}

	writeError(w, rejectionStatus(rej), rej.Message)
}

// rejectionStatus maps a rejection to its HTTP status.
func rejectionStatus(rej *security.Rejection) int {
	switch rej.Reason {
	case taint.ReasonBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	case taint.ReasonForbiddenHeader, taint.ReasonForbiddenAccept:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// ============================================================================
// Rate Limiter
// ============================================================================

// RateLimiter is a token bucket per client IP.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond sustained requests per IP with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    5 * time.Minute,
		now:     time.Now,
	}
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.idle {
		rl.sweepLocked(now)
	}

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// sweepLocked drops limiters idle for longer than rl.idle.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	for ip, c := range rl.clients {
		if now.Sub(c.lastSeen) >= rl.idle {
			delete(rl.clients, ip)
		}
	}
	rl.lastSweep = now
}

// Clients returns the number of tracked client IPs.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimitMiddleware returns 429 Too Many Requests once a client exhausts
// its bucket.
func RateLimitMiddleware(limiter *RateLimiter, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := GetClientIP(r)
			if !limiter.Allow(clientIP) {
				w.Header().Set("Retry-After", "1")
				logger.Printf("RATE_LIMIT_EXCEEDED | ip=%s limit=%v burst=%d", clientIP, float64(limiter.limit), limiter.burst)
				writeError(w, http.StatusTooManyRequests, "Too Many Requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Request Logging Middleware
// ============================================================================

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs one line per request.
//
// Log format: "HTTP_REQUEST | id=... POST /v1/echo | 200 | 0.004s"
func LoggingMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			logger.Printf("HTTP_REQUEST | id=%s %s %s | %d | %.3fs",
				RequestIDFromContext(r.Context()),
				r.Method,
				r.URL.Path,
				wrapped.statusCode,
				time.Since(start).Seconds(),
			)
		})
	}
}

// ============================================================================
// Security Headers Middleware
// ============================================================================

// SecurityHeadersMiddleware adds defensive response headers. Responses are
// JSON only, so the CSP forbids everything.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cache-Control", "no-store")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Recovery Middleware
// ============================================================================

// RecoveryMiddleware turns a handler panic into a generic 500. The stack
// trace is logged, never returned.
func RecoveryMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Printf("PANIC_RECOVERED | method=%s path=%s error=%v\n%s",
						r.Method, r.URL.Path, err, debug.Stack())
					writeError(w, http.StatusInternalServerError, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Middleware Chain Helper
// ============================================================================

// Chain composes middleware; the first one listed runs outermost.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// ============================================================================
// IP Extraction Helper
// ============================================================================

// trustedProxies may set X-Forwarded-For and X-Real-IP.
var trustedProxies = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("fc00::/7"),
}

func isTrustedProxy(ipStr string) bool {
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// GetClientIP returns the client address. Forwarding headers are honoured
// only when the direct peer is a trusted proxy, and only if they hold a
// valid IP.
func GetClientIP(r *http.Request) string {
	connIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		connIP = r.RemoteAddr
	}
	if !isTrustedProxy(connIP) {
		return connIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.String()
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr.String()
		}
	}
	return connIP
}
