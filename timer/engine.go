// Package timer implements the countdown engine. Remaining time is always derived from
// the wall clock (absoluteEndTime minus now) so delayed or missed ticks self-correct on
// the next one instead of accumulating drift.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/overtime-timer/backend/apperr"
	"github.com/onnwee/overtime-timer/backend/cue"
	"github.com/onnwee/overtime-timer/backend/store"
	"github.com/onnwee/overtime-timer/backend/telemetry"
)

// settingsTTL bounds how stale the cached general settings may be.
const settingsTTL = 10 * time.Second

// Store is the subset of the persistent store the engine uses.
type Store interface {
	Timer(ctx context.Context) store.TimerState
	SaveTimer(ctx context.Context, t store.TimerState) error
	DailyStats(ctx context.Context, day string) store.DailyStats
	SaveDailyStats(ctx context.Context, s store.DailyStats) error
	General(ctx context.Context) store.GeneralSettings
}

// Syncer receives every persisted state for best-effort mirroring.
type Syncer interface {
	Offer(state store.TimerState, force bool)
}

// Config holds optional collaborators.
type Config struct {
	Clock    clockwork.Clock // defaults to the real clock
	Location *time.Location  // calendar day for daily stats, defaults to time.Local
	Sync     Syncer          // optional
}

// Engine owns the timer state. All mutations and ticks are serialised by mu.
type Engine struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	loc    *time.Location
	store  Store
	cues   cue.Player
	sync   Syncer
	logger *slog.Logger

	state       store.TimerState
	restored    bool
	finished    bool
	lastWarning int
	lastWrite   time.Time

	settings   store.GeneralSettings
	settingsAt time.Time

	tickGen    uint64
	cancelTick context.CancelFunc

	subs []chan Event
}

// New creates an engine. Call Restore (or Run) to load persisted state.
func New(st Store, player cue.Player, cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if player == nil {
		player = cue.Nop{}
	}
	return &Engine{
		clock:       cfg.Clock,
		loc:         cfg.Location,
		store:       st,
		cues:        player,
		sync:        cfg.Sync,
		logger:      slog.Default().With(slog.String("component", "timer")),
		lastWarning: -1,
		settings:    store.DefaultGeneralSettings(),
	}
}

// Subscribe registers an observer. Events are dropped for observers that fall behind.
func (e *Engine) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (e *Engine) Unsubscribe(ch <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, c := range e.subs {
		if c == ch {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			close(c)
			return
		}
	}
}

// Run restores persisted state unless Restore already ran, then keeps the engine alive
// until ctx is done. On exit the tick loop is stopped and a final checkpoint is written
// so a restart can resume.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	restored := e.restored
	e.mu.Unlock()
	if !restored {
		e.Restore(ctx)
	}
	<-ctx.Done()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTickingLocked()
	if e.state.IsRunning {
		e.state.RemainingTime = e.actualRemainingLocked(e.clock.Now())
	}
	e.persistLocked(context.WithoutCancel(ctx), true)
	return nil
}

// Restore loads persisted state. A run that was active when the process stopped resumes
// with the remaining time derived from its absolute end; one that ran out meanwhile is
// marked finished without a cue.
func (e *Engine) Restore(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTickingLocked()
	e.state = e.store.Timer(ctx)
	e.restored = true
	e.finished = false
	e.lastWarning = -1
	e.refreshSettingsLocked(ctx, e.clock.Now(), true)

	if !e.state.IsRunning {
		telemetry.SetTimer(e.state.RemainingTime, false)
		return
	}
	now := e.clock.Now()
	if e.state.AbsoluteEndTime > 0 {
		e.state.RemainingTime = e.actualRemainingLocked(now)
	}
	if e.state.RemainingTime <= 0 {
		e.state.RemainingTime = 0
		e.state.IsRunning = false
		e.finished = true
		e.persistLocked(ctx, true)
		e.emitLocked(EventFinished, 0, 0)
		e.logger.Info("countdown ran out while stopped")
		return
	}
	e.state.IsRunning = false
	e.startLocked(ctx, now)
	e.logger.Info("countdown resumed", slog.Int("remaining", e.state.RemainingTime))
}

// SetInitialTime sets both the remaining and the initial time and stops any run.
func (e *Engine) SetInitialTime(ctx context.Context, seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("set initial time %d: %w", seconds, apperr.ErrInvalidInput)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTickingLocked()
	e.state = store.TimerState{RemainingTime: seconds, InitialTime: seconds}
	e.finished = false
	e.lastWarning = -1
	e.persistLocked(ctx, true)
	e.emitLocked(EventChanged, 0, 0)
	return nil
}

// Start begins or resumes the countdown. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.IsRunning {
		return nil
	}
	if e.state.RemainingTime <= 0 {
		return fmt.Errorf("start with %d seconds remaining: %w", e.state.RemainingTime, apperr.ErrInvalidState)
	}
	e.startLocked(ctx, e.clock.Now())
	e.emitLocked(EventChanged, 0, 0)
	return nil
}

func (e *Engine) startLocked(ctx context.Context, now time.Time) {
	e.state.IsRunning = true
	e.state.StartTime = now.UnixMilli()
	e.state.AbsoluteStartTime = now.UnixMilli()
	e.state.AbsoluteEndTime = now.Unix() + int64(e.state.RemainingTime)
	e.finished = false
	e.persistLocked(ctx, true)
	e.startTickingLocked(now)
}

// Pause stops the countdown, capturing the remaining time from the wall clock.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.IsRunning {
		return nil
	}
	e.pauseLocked(e.clock.Now())
	e.persistLocked(ctx, true)
	e.emitLocked(EventChanged, 0, 0)
	return nil
}

func (e *Engine) pauseLocked(now time.Time) {
	e.state.RemainingTime = e.actualRemainingLocked(now)
	e.state.IsRunning = false
	e.stopTickingLocked()
}

// Reset pauses and restores the initial time.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.IsRunning {
		e.pauseLocked(e.clock.Now())
	}
	e.state.RemainingTime = e.state.InitialTime
	e.state.StartTime = 0
	e.state.AbsoluteStartTime = 0
	e.state.AbsoluteEndTime = 0
	e.finished = false
	e.lastWarning = -1
	e.persistLocked(ctx, true)
	e.emitLocked(EventChanged, 0, 0)
	return nil
}

// AddTime adds seconds (which may be negative) to the remaining time, flooring at zero.
// Points are recorded in today's statistics when positive. A negative adjustment cannot
// carry points. Positive additions request the "added" cue.
func (e *Engine) AddTime(ctx context.Context, seconds, points int) error {
	if points < 0 {
		return fmt.Errorf("add %d points: %w", points, apperr.ErrInvalidInput)
	}
	if points > 0 && seconds < 0 {
		return fmt.Errorf("add %d seconds with %d points: %w", seconds, points, apperr.ErrInvalidInput)
	}
	if seconds == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if e.state.IsRunning {
		e.state.RemainingTime = max(0, e.actualRemainingLocked(now)+seconds)
		e.state.AbsoluteEndTime = now.Unix() + int64(e.state.RemainingTime)
		e.state.StartTime = now.UnixMilli()
	} else {
		e.state.RemainingTime = max(0, e.state.RemainingTime+seconds)
	}
	e.finished = false
	e.persistLocked(ctx, true)

	if points > 0 {
		e.recordStatsLocked(ctx, now, points, seconds)
	}
	if points > 0 || seconds > 0 {
		e.cues.PlayAdded()
	}
	telemetry.RecordTimeAdded(seconds, points)
	e.emitLocked(EventAdded, seconds, points)
	return nil
}

func (e *Engine) recordStatsLocked(ctx context.Context, now time.Time, points, seconds int) {
	stats := e.store.DailyStats(ctx, e.dayKey(now))
	stats.TotalPoints += points
	stats.TotalTimeAdded += seconds
	stats.Sessions = append(stats.Sessions, store.Session{
		Timestamp: now.UnixMilli(),
		Points:    points,
		TimeAdded: seconds,
	})
	if err := e.store.SaveDailyStats(ctx, stats); err != nil {
		e.logger.Warn("save daily stats failed", slog.Any("err", err))
	}
}

// Tick recomputes the remaining time. It is a no-op unless running.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickLocked(ctx)
}

func (e *Engine) tickLocked(ctx context.Context) {
	if !e.state.IsRunning {
		return
	}
	now := e.clock.Now()
	remaining := e.actualRemainingLocked(now)
	e.refreshSettingsLocked(ctx, now, false)

	warned := false
	if remaining > 0 && remaining <= e.settings.WarningTime && remaining%60 == 0 && remaining != e.lastWarning {
		e.cues.PlayWarning()
		e.lastWarning = remaining
		warned = true
	}

	switch {
	case remaining == 0 && !e.finished:
		e.finished = true
		e.state.RemainingTime = 0
		e.state.IsRunning = false
		e.persistLocked(ctx, true)
		e.stopTickingLocked()
		e.cues.PlayFinished()
		e.logger.Info("countdown finished")
		e.emitLocked(EventFinished, 0, 0)
		return
	case remaining > 0:
		e.state.RemainingTime = remaining
		if e.settings.AutoSave && ShouldPersist(remaining, now.Sub(e.lastWrite)) {
			e.state.StartTime = now.UnixMilli()
			e.persistLocked(ctx, false)
		}
	}
	telemetry.SetTimer(remaining, true)
	if warned {
		e.emitLocked(EventWarning, 0, 0)
	} else {
		e.emitLocked(EventTick, 0, 0)
	}
}

// DisplaySeconds is the remaining time as it should be shown right now.
func (e *Engine) DisplaySeconds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.displayLocked(e.clock.Now())
}

func (e *Engine) displayLocked(now time.Time) int {
	if e.state.IsRunning && e.state.RemainingTime > 0 {
		return e.actualRemainingLocked(now)
	}
	return e.state.RemainingTime
}

// Stats returns today's statistics.
func (e *Engine) Stats(ctx context.Context) store.DailyStats {
	return e.store.DailyStats(ctx, e.dayKey(e.clock.Now()))
}

// State returns the current state machine position.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	switch {
	case e.state.IsRunning:
		return StateRunning
	case e.finished:
		return StateFinished
	case e.state.AbsoluteEndTime != 0:
		return StatePaused
	default:
		return StateIdle
	}
}

// Snapshot returns a copy of the state with display fields.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(e.clock.Now())
}

func (e *Engine) snapshotLocked(now time.Time) Snapshot {
	display := e.displayLocked(now)
	phase := PhaseNormal
	switch {
	case display == 0 && (e.finished || e.state.InitialTime > 0):
		phase = PhaseFinished
	case display > 0 && display <= e.settings.WarningTime:
		phase = PhaseWarning
	}
	return Snapshot{
		TimerState:     e.state,
		DisplaySeconds: display,
		State:          e.stateLocked(),
		Phase:          phase,
		Display:        FormatClock(display),
	}
}

func (e *Engine) actualRemainingLocked(now time.Time) int {
	return int(max(0, e.state.AbsoluteEndTime-now.Unix()))
}

func (e *Engine) dayKey(now time.Time) string {
	return now.In(e.loc).Format("2006-01-02")
}

func (e *Engine) refreshSettingsLocked(ctx context.Context, now time.Time, force bool) {
	if !force && !e.settingsAt.IsZero() && now.Sub(e.settingsAt) <= settingsTTL {
		return
	}
	e.settings = e.store.General(ctx)
	e.settingsAt = now
}

// persistLocked writes the state. Failures are logged and absorbed. Every write is
// offered to the syncer, which rate limits unforced (tick) writes.
func (e *Engine) persistLocked(ctx context.Context, forced bool) {
	if err := e.store.SaveTimer(ctx, e.state); err != nil {
		e.logger.Warn("persist timer failed", slog.Bool("forced", forced), slog.Any("err", err))
	}
	e.lastWrite = e.clock.Now()
	telemetry.SetTimer(e.state.RemainingTime, e.state.IsRunning)
	if e.sync != nil {
		e.sync.Offer(e.state, forced)
	}
}

func (e *Engine) emitLocked(t EventType, seconds, points int) {
	if len(e.subs) == 0 {
		return
	}
	now := e.clock.Now()
	ev := Event{Type: t, Seconds: seconds, Points: points, Snapshot: e.snapshotLocked(now), At: now}
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// startTickingLocked schedules the first tick on the next whole-second boundary and
// then one per second until stopTickingLocked.
func (e *Engine) startTickingLocked(now time.Time) {
	e.stopTickingLocked()
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelTick = cancel
	e.tickGen++
	gen := e.tickGen
	delay := time.Second - time.Duration(now.UnixNano()%int64(time.Second))
	go e.tickLoop(ctx, gen, delay)
}

func (e *Engine) stopTickingLocked() {
	if e.cancelTick != nil {
		e.cancelTick()
		e.cancelTick = nil
	}
}

func (e *Engine) tickLoop(ctx context.Context, gen uint64, delay time.Duration) {
	first := e.clock.NewTimer(delay)
	defer first.Stop()
	select {
	case <-ctx.Done():
		return
	case <-first.Chan():
	}
	if !e.loopTick(ctx, gen) {
		return
	}

	ticker := e.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !e.loopTick(ctx, gen) {
				return
			}
		}
	}
}

// loopTick runs one tick for the loop identified by gen and reports whether the loop
// should continue.
func (e *Engine) loopTick(ctx context.Context, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.tickGen || ctx.Err() != nil {
		return false
	}
	e.tickLocked(ctx)
	return e.state.IsRunning
}
