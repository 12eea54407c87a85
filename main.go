// Command backend runs the overtime countdown service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the persistent store (SQLite, Postgres or in-memory) and migrates it.
//   - Restores the countdown engine and mirrors it to the remote-sync target if configured.
//   - Joins Twitch chat and converts subscriptions, gifts and bits into added time.
//   - Exposes the HTTP API, the display event feed and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/overtime-timer/backend/chat"
	"github.com/onnwee/overtime-timer/backend/config"
	"github.com/onnwee/overtime-timer/backend/cue"
	"github.com/onnwee/overtime-timer/backend/db"
	"github.com/onnwee/overtime-timer/backend/remotesync"
	"github.com/onnwee/overtime-timer/backend/server"
	"github.com/onnwee/overtime-timer/backend/store"
	"github.com/onnwee/overtime-timer/backend/telemetry"
	"github.com/onnwee/overtime-timer/backend/timer"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env", ".env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}
	loc, _ := cfg.Location() // validated above

	telemetry.Init()

	// Tracing is optional; OTEL_EXPORTER_OTLP_ENDPOINT enables it.
	shutdown, err := telemetry.InitTracing("overtime-timer", "1.0.0", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", slog.String("backend", cfg.StoreBackend), slog.Any("err", err))
		os.Exit(1)
	}
	defer closeStore()
	st := store.New(kv)

	syncer, closeSync := openSync(ctx, cfg)
	defer closeSync()

	clock := clockwork.NewRealClock()
	hub := server.NewHub(server.DefaultHubConfig())
	gate := cue.NewGate(st, hub, cue.LogSink{})
	hub.OnJoin(gate.Enable)

	eng := timer.New(st, gate, timer.Config{Clock: clock, Location: loc, Sync: syncer})
	go hub.Pump(ctx, eng.Subscribe(64))
	// Restore before chat or HTTP can mutate the engine.
	eng.Restore(ctx)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		_ = eng.Run(ctx)
	}()

	var dialer chat.Dialer = chat.WSDialer{}
	if cfg.ChatTransport == config.TransportIRC {
		dialer = chat.IRCDialer{}
	}
	pipe := chat.New(ctx, eng, st, dialer, hub, chat.Config{
		URL:            cfg.ChatURL,
		ConnectTimeout: cfg.ChatConnectTimeout,
		ReconnectDelay: cfg.ChatReconnectDelay,
		MaxReconnects:  cfg.ChatMaxReconnects,
		Clock:          clock,
		DedupeGifts:    cfg.ChatDedupeGifts,
	})
	if cfg.ChatAutoConnect {
		channel := cfg.TwitchChannel
		if channel == "" {
			channel = pipe.Status().ChannelName
		}
		if channel != "" {
			go func() {
				if err := pipe.Connect(ctx, channel); err != nil {
					slog.Warn("chat auto-connect failed", slog.String("channel", channel), slog.Any("err", err))
				}
			}()
		} else {
			slog.Info("chat auto-connect skipped: no channel configured")
		}
	}

	startPprof()

	handler := server.NewMux(ctx, server.Deps{
		Engine: eng,
		Chat:   pipe,
		Store:  st,
		Hub:    hub,
		Clock:  clock,
	}, server.Options{
		AdminToken:         cfg.AdminToken,
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		PermissiveCORS:     cfg.IsDev(),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	go func() {
		if err := server.Start(ctx, handler, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	_ = pipe.Disconnect(context.Background())
	<-engineDone
	syncer.Wait()
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// openStore returns the key-value backend selected by STORE_BACKEND and its closer.
func openStore(ctx context.Context, cfg *config.Config) (store.KV, func(), error) {
	if cfg.StoreBackend == config.StoreMemory {
		slog.Warn("using in-memory store: state is lost on restart")
		return store.NewMemoryKV(), func() {}, nil
	}

	dialect, err := db.ParseDialect(cfg.StoreBackend)
	if err != nil {
		return nil, nil, err
	}
	dsn := cfg.SQLitePath
	if dialect == db.Postgres {
		dsn = cfg.DBDsn
	}
	database, err := db.Connect(dialect, dsn)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}
	if err := migrate(ctx, database, dialect); err != nil {
		closer()
		return nil, nil, err
	}
	return store.NewSQLKV(database, dialect), closer, nil
}

// migrate runs versioned migrations on Postgres, falling back to the embedded schema.
// SQLite always uses the embedded schema.
func migrate(ctx context.Context, database *sql.DB, dialect db.Dialect) error {
	slog.Info("running database migrations", slog.String("component", "db_migrate"), slog.String("dialect", dialect.String()))
	if dialect == db.Postgres {
		err := db.RunMigrations(database)
		if err == nil {
			return nil
		}
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
	}
	return db.Migrate(ctx, database, dialect)
}

// openSync builds the remote-sync mirror. A nil Syncer is valid and discards offers.
func openSync(ctx context.Context, cfg *config.Config) (*remotesync.Syncer, func()) {
	scfg := remotesync.Config{MinInterval: cfg.SyncMinInterval}
	switch cfg.SyncBackend {
	case config.SyncHTTP:
		p := remotesync.NewHTTPPusher(cfg.SyncURL)
		p.Token = cfg.SyncToken
		slog.Info("remote sync enabled", slog.String("backend", "http"), slog.String("url", p.BaseURL))
		return remotesync.New(p, scfg), func() {}
	case config.SyncNATS:
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		p, err := remotesync.DialNATS(dialCtx, cfg.NATSURL, cfg.NATSBucket)
		if err != nil {
			slog.Warn("remote sync disabled: NATS unavailable", slog.Any("err", err))
			return nil, func() {}
		}
		slog.Info("remote sync enabled", slog.String("backend", "nats"), slog.String("bucket", cfg.NATSBucket))
		return remotesync.New(p, scfg), p.Close
	default:
		return nil, func() {}
	}
}

// startPprof enables profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
