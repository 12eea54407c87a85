// Package remotesync mirrors the countdown state to a remote target. Pushes are
// rate limited and fire-and-forget: an offer inside the minimum interval is dropped,
// never queued, and failures are only logged.
package remotesync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/overtime-timer/backend/store"
	"github.com/onnwee/overtime-timer/backend/telemetry"
)

// Pusher delivers one state snapshot to the remote target.
type Pusher interface {
	Push(ctx context.Context, state store.TimerState) error
}

// Config tunes a Syncer. Zero values take the defaults.
type Config struct {
	MinInterval time.Duration // 5s
	Timeout     time.Duration // 5s per push
	Clock       clockwork.Clock
}

// Syncer rate limits offers to a Pusher.
type Syncer struct {
	pusher      Pusher
	minInterval time.Duration
	timeout     time.Duration
	clock       clockwork.Clock
	logger      *slog.Logger

	mu     sync.Mutex
	last   time.Time
	pushed bool

	inflight sync.WaitGroup
}

// New returns a Syncer pushing through p.
func New(p Pusher, cfg Config) *Syncer {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Syncer{
		pusher:      p,
		minInterval: cfg.MinInterval,
		timeout:     cfg.Timeout,
		clock:       cfg.Clock,
		logger:      slog.Default().With(slog.String("component", "remotesync")),
	}
}

// Offer pushes state unless a push started less than MinInterval ago. Forced offers
// (start, pause, reset and other mutations) are always pushed and restart the interval.
// It never blocks on the network.
func (s *Syncer) Offer(state store.TimerState, force bool) {
	if s == nil || s.pusher == nil {
		return
	}
	s.mu.Lock()
	now := s.clock.Now()
	if !force && s.pushed && now.Sub(s.last) < s.minInterval {
		s.mu.Unlock()
		telemetry.RecordSync("dropped")
		return
	}
	s.last, s.pushed = now, true
	s.inflight.Add(1)
	s.mu.Unlock()

	go s.push(state)
}

func (s *Syncer) push(state store.TimerState) {
	defer s.inflight.Done()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var err error
	d := telemetry.TimeFunc(telemetry.SyncPushDuration, func() {
		err = s.pusher.Push(ctx, state)
	})
	if err != nil {
		telemetry.RecordSync("failed")
		s.logger.Warn("push failed", slog.Any("err", err), slog.Duration("took", d))
		return
	}
	telemetry.RecordSync("ok")
	s.logger.Debug("pushed", slog.Int("remaining", state.RemainingTime), slog.Bool("running", state.IsRunning))
}

// Wait blocks until in-flight pushes finish.
func (s *Syncer) Wait() {
	if s != nil {
		s.inflight.Wait()
	}
}
