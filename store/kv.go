package store

import (
	"context"
	"database/sql"
	"sync"

	"github.com/onnwee/overtime-timer/backend/db"
)

// KV is the raw key/value contract the typed store is built on.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// SQLKV stores keys in the kv table of a SQLite or Postgres database.
type SQLKV struct {
	DB      *sql.DB
	Dialect db.Dialect
}

// NewSQLKV wraps an open database.
func NewSQLKV(database *sql.DB, d db.Dialect) *SQLKV {
	return &SQLKV{DB: database, Dialect: d}
}

func (s *SQLKV) Get(ctx context.Context, key string) (string, bool, error) {
	return db.GetKV(ctx, s.DB, s.Dialect, key)
}

func (s *SQLKV) Set(ctx context.Context, key, value string) error {
	return db.SetKV(ctx, s.DB, s.Dialect, key, value)
}

func (s *SQLKV) Delete(ctx context.Context, key string) error {
	return db.DeleteKV(ctx, s.DB, s.Dialect, key)
}

func (s *SQLKV) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// MemoryKV is a process-local KV used by STORE_BACKEND=memory and tests.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryKV returns an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Ping(context.Context) error { return nil }
