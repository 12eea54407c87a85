// Package server exposes the HTTP API: health, metrics, engine and chat commands, the
// remote-sync target and the display event feed. Mutating API routes are guarded by an
// admin token and a per-IP rate limit; every request carries a correlation id.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures the middleware stack.
type Options struct {
	AdminToken         string
	AllowedOrigins     []string
	PermissiveCORS     bool
	RateLimitPerMinute int // <= 0 disables rate limiting
}

// NewMux returns the HTTP handler with all routes. ctx bounds the rate limiter cleanup
// goroutine.
func NewMux(ctx context.Context, deps Deps, opts Options) http.Handler {
	handlers := NewHandlers(deps)
	authCfg := newAuthConfig(opts.AdminToken)
	corsCfg := &corsConfig{allowedOrigins: opts.AllowedOrigins, permissive: opts.PermissiveCORS}
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{
		enabled:       opts.RateLimitPerMinute > 0,
		requestsPerIP: opts.RateLimitPerMinute,
		window:        time.Minute,
	}, deps.Clock)

	if handlers.hub.upgrader.CheckOrigin == nil {
		handlers.hub.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || corsCfg.allows(origin)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)

	// Remote-sync target
	mux.HandleFunc("/api/timer", handlers.HandleRemoteTimer)
	mux.HandleFunc("/api/timer/reset", handlers.HandleRemoteTimerReset)

	// Engine
	mux.HandleFunc("/api/engine", handlers.HandleEngine)
	mux.HandleFunc("/api/engine/stats", handlers.HandleEngineStats)
	mux.HandleFunc("/api/engine/set", handlers.HandleEngineSet)
	mux.HandleFunc("/api/engine/start", handlers.HandleEngineStart)
	mux.HandleFunc("/api/engine/pause", handlers.HandleEnginePause)
	mux.HandleFunc("/api/engine/reset", handlers.HandleEngineReset)
	mux.HandleFunc("/api/engine/add", handlers.HandleEngineAdd)

	// Settings
	mux.HandleFunc("/api/settings/tiers", handlers.HandleTierSettings)
	mux.HandleFunc("/api/settings/donation", handlers.HandleDonationSettings)
	mux.HandleFunc("/api/settings/general", handlers.HandleGeneralSettings)
	mux.HandleFunc("/api/donation", handlers.HandleDonation)

	// Chat
	mux.HandleFunc("/api/chat", handlers.HandleChatStatus)
	mux.HandleFunc("/api/chat/connect", handlers.HandleChatConnect)
	mux.HandleFunc("/api/chat/disconnect", handlers.HandleChatDisconnect)

	// Event feed
	mux.HandleFunc("/ws", handlers.HandleWS)
	mux.HandleFunc("/api/events", handlers.HandleEvents)

	protected := adminAuth(rateLimitMiddleware(mux, limiter), authCfg)
	selective := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") && mutating(r) {
			protected.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	return newCORS(corsCfg).Handler(withRequestContext(selective))
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, handler http.Handler, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, handler, ln)
}

// Serve is Start on an existing listener.
func Serve(ctx context.Context, handler http.Handler, ln net.Listener) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx }, // ends event streams on shutdown
	}

	go func() {
		<-ctx.Done()
		// WithoutCancel keeps context values but lets shutdown complete.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
