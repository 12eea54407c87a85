// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with no setup. An optional YAML file
// named by CONFIG_FILE supplies values that the environment then overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store and sync backends, chat transports.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	SyncNone = "none"
	SyncHTTP = "http"
	SyncNATS = "nats"

	TransportWebSocket = "websocket"
	TransportIRC       = "irc"
)

type Config struct {
	// HTTP
	HTTPAddr           string   `yaml:"http_addr"`
	Env                string   `yaml:"env"`
	AdminToken         string   `yaml:"admin_token"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`

	// Storage
	StoreBackend string `yaml:"store_backend"`
	DataDir      string `yaml:"data_dir"`
	SQLitePath   string `yaml:"sqlite_path"`
	DBDsn        string `yaml:"db_dsn"`

	// Remote sync
	SyncBackend     string        `yaml:"sync_backend"`
	SyncURL         string        `yaml:"sync_url"`
	SyncToken       string        `yaml:"sync_token"` // admin token of the target
	NATSURL         string        `yaml:"nats_url"`
	NATSBucket      string        `yaml:"nats_bucket"`
	SyncMinInterval time.Duration `yaml:"sync_min_interval"`

	// Chat
	ChatTransport      string        `yaml:"chat_transport"`
	ChatURL            string        `yaml:"chat_url"`
	TwitchChannel      string        `yaml:"twitch_channel"`
	ChatAutoConnect    bool          `yaml:"chat_auto_connect"`
	ChatConnectTimeout time.Duration `yaml:"chat_connect_timeout"`
	ChatReconnectDelay time.Duration `yaml:"chat_reconnect_delay"`
	ChatMaxReconnects  int           `yaml:"chat_max_reconnects"`
	ChatDedupeGifts    bool          `yaml:"chat_dedupe_gifts"`

	// Day boundary for daily statistics.
	Timezone string `yaml:"timezone"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

func defaults() *Config {
	return &Config{
		HTTPAddr:           "127.0.0.1:6969",
		Env:                "production",
		RateLimitPerMinute: 120,
		StoreBackend:       StoreSQLite,
		DataDir:            "data",
		SyncBackend:        SyncNone,
		NATSURL:            "nats://127.0.0.1:4222",
		NATSBucket:         "overtime",
		SyncMinInterval:    5 * time.Second,
		ChatTransport:      TransportWebSocket,
		ChatAutoConnect:    true,
		ChatConnectTimeout: 5 * time.Second,
		ChatReconnectDelay: 5 * time.Second,
		ChatMaxReconnects:  5,
		Timezone:           "Local",
	}
}

// Load applies defaults, then the CONFIG_FILE overlay, then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read CONFIG_FILE: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse CONFIG_FILE %s: %w", path, err)
		}
	}

	str(&cfg.HTTPAddr, "HTTP_ADDR")
	str(&cfg.Env, "ENV")
	str(&cfg.AdminToken, "ADMIN_TOKEN")
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}

	str(&cfg.StoreBackend, "STORE_BACKEND")
	str(&cfg.DataDir, "DATA_DIR")
	str(&cfg.SQLitePath, "SQLITE_PATH")
	str(&cfg.DBDsn, "DB_DSN")

	str(&cfg.SyncBackend, "SYNC_BACKEND")
	str(&cfg.SyncURL, "SYNC_URL")
	str(&cfg.SyncToken, "SYNC_TOKEN")
	str(&cfg.NATSURL, "NATS_URL")
	str(&cfg.NATSBucket, "NATS_BUCKET")

	str(&cfg.ChatTransport, "CHAT_TRANSPORT")
	str(&cfg.ChatURL, "CHAT_URL")
	str(&cfg.TwitchChannel, "TWITCH_CHANNEL")
	str(&cfg.Timezone, "TIMEZONE")
	str(&cfg.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	var err error
	set := func(e error) {
		if err == nil {
			err = e
		}
	}
	set(integer(&cfg.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE"))
	set(integer(&cfg.ChatMaxReconnects, "CHAT_MAX_RECONNECTS"))
	set(duration(&cfg.SyncMinInterval, "SYNC_MIN_INTERVAL"))
	set(duration(&cfg.ChatConnectTimeout, "CHAT_CONNECT_TIMEOUT"))
	set(duration(&cfg.ChatReconnectDelay, "CHAT_RECONNECT_DELAY"))
	set(boolean(&cfg.ChatAutoConnect, "CHAT_AUTO_CONNECT"))
	set(boolean(&cfg.ChatDedupeGifts, "CHAT_DEDUPE_GIFTS"))
	if err != nil {
		return nil, err
	}

	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.SyncBackend = strings.ToLower(cfg.SyncBackend)
	cfg.ChatTransport = strings.ToLower(cfg.ChatTransport)
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.DataDir, "overtime.db")
	}
	return cfg, nil
}

// Validate rejects unknown backends and transports and missing backend settings.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreSQLite, StoreMemory:
	case StorePostgres:
		if c.DBDsn == "" {
			return fmt.Errorf("STORE_BACKEND=postgres requires DB_DSN")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (sqlite|postgres|memory)", c.StoreBackend)
	}
	switch c.SyncBackend {
	case SyncNone, "":
	case SyncHTTP:
		if c.SyncURL == "" {
			return fmt.Errorf("SYNC_BACKEND=http requires SYNC_URL")
		}
	case SyncNATS:
		if c.NATSURL == "" || c.NATSBucket == "" {
			return fmt.Errorf("SYNC_BACKEND=nats requires NATS_URL and NATS_BUCKET")
		}
	default:
		return fmt.Errorf("unknown SYNC_BACKEND %q (none|http|nats)", c.SyncBackend)
	}
	switch c.ChatTransport {
	case TransportWebSocket, TransportIRC:
	default:
		return fmt.Errorf("unknown CHAT_TRANSPORT %q (websocket|irc)", c.ChatTransport)
	}
	if c.ChatMaxReconnects < 0 {
		return fmt.Errorf("CHAT_MAX_RECONNECTS must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// IsDev reports whether ENV selects development mode. Local setups opt in with ENV=dev.
func (c *Config) IsDev() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development":
		return true
	}
	return false
}

func str(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func integer(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func duration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func boolean(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
