// Package server middleware for authentication, rate limiting, CORS and request context.
package server

import (
	"bufio"
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/overtime-timer/backend/telemetry"
)

// authConfig holds the admin token guarding mutating API routes.
type authConfig struct {
	adminToken string
	enabled    bool
}

func newAuthConfig(token string) *authConfig {
	if token == "" {
		slog.Warn("ADMIN_TOKEN not set - mutating API routes are UNPROTECTED")
	}
	return &authConfig{adminToken: token, enabled: token != ""}
}

// adminAuth accepts the token in X-Admin-Token or as a Bearer token.
func adminAuth(next http.Handler, cfg *authConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.enabled {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Admin-Token")
		if token == "" {
			if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
				token = strings.TrimPrefix(v, "Bearer ")
			}
		}
		if token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.adminToken)) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="overtime-timer"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		slog.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
	})
}

// rateLimiterConfig holds rate limiting configuration.
type rateLimiterConfig struct {
	enabled       bool
	requestsPerIP int           // max requests per IP per window
	window        time.Duration // sliding window
}

// ipRateLimiter implements a sliding window rate limiter per IP.
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	cfg      *rateLimiterConfig
	clock    clockwork.Clock
}

type visitor struct {
	requests []time.Time
	lastSeen time.Time
}

// newIPRateLimiter starts a cleanup goroutine bound to ctx.
func newIPRateLimiter(ctx context.Context, cfg *rateLimiterConfig, clock clockwork.Clock) *ipRateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	limiter := &ipRateLimiter{
		visitors: make(map[string]*visitor),
		cfg:      cfg,
		clock:    clock,
	}
	go limiter.cleanupLoop(ctx)
	return limiter
}

func (rl *ipRateLimiter) cleanupLoop(ctx context.Context) {
	ticker := rl.clock.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			rl.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup removes visitors idle for two windows.
func (rl *ipRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock.Now()
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.cfg.window*2 {
			delete(rl.visitors, ip)
		}
	}
}

// allow reports whether a request from ip fits in the window, recording it if so.
func (rl *ipRateLimiter) allow(ip string) bool {
	if !rl.cfg.enabled {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	v, ok := rl.visitors[ip]
	if !ok {
		rl.visitors[ip] = &visitor{requests: []time.Time{now}, lastSeen: now}
		return true
	}
	cutoff := now.Add(-rl.cfg.window)
	kept := v.requests[:0]
	for _, t := range v.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	v.requests = kept
	v.lastSeen = now
	if len(v.requests) >= rl.cfg.requestsPerIP {
		return false
	}
	v.requests = append(v.requests, now)
	return true
}

func rateLimitMiddleware(next http.Handler, limiter *ipRateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !limiter.allow(ip) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(limiter.cfg.window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			slog.Warn("rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsConfig holds CORS configuration.
type corsConfig struct {
	allowedOrigins []string
	permissive     bool // dev mode allows every origin
}

func (c *corsConfig) allows(origin string) bool {
	return c.permissive || isOriginAllowed(origin, c.allowedOrigins)
}

// newCORS builds the rs/cors handler for cfg.
func newCORS(cfg *corsConfig) *cors.Cors {
	opts := cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Admin-Token", "X-Correlation-ID"},
		ExposedHeaders: []string{"X-Correlation-ID"},
	}
	if cfg.permissive {
		opts.AllowedOrigins = []string{"*"}
	} else {
		if len(cfg.allowedOrigins) == 0 {
			slog.Warn("CORS restricted mode enabled but no CORS_ALLOWED_ORIGINS configured - all CORS requests will be blocked")
		}
		opts.AllowOriginFunc = func(origin string) bool { return isOriginAllowed(origin, cfg.allowedOrigins) }
		opts.AllowCredentials = true
	}
	return cors.New(opts)
}

// isOriginAllowed checks origin against the list. "*.example.com" matches subdomains
// and the bare domain over http or https.
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			domain := allowed[2:]
			if strings.HasSuffix(origin, "."+domain) || origin == "https://"+domain || origin == "http://"+domain {
				return true
			}
		}
	}
	return false
}

// withRequestContext injects a correlation id and a tracing span and records the
// response status on the span.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path, func() []attribute.KeyValue {
			return telemetry.HTTPAttrs(r.Method, r.URL.Path, r.URL.String())
		})
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
}

// statusRecorder wraps ResponseWriter to capture status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
