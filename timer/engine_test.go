package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/overtime-timer/backend/apperr"
	"github.com/onnwee/overtime-timer/backend/store"
)

type countingPlayer struct {
	mu       sync.Mutex
	added    int
	warnings int
	finished int
}

func (p *countingPlayer) PlayAdded()    { p.mu.Lock(); p.added++; p.mu.Unlock() }
func (p *countingPlayer) PlayWarning()  { p.mu.Lock(); p.warnings++; p.mu.Unlock() }
func (p *countingPlayer) PlayFinished() { p.mu.Lock(); p.finished++; p.mu.Unlock() }
func (p *countingPlayer) Enable()       {}

func (p *countingPlayer) counts() (added, warnings, finished int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.added, p.warnings, p.finished
}

type countingSyncer struct {
	mu     sync.Mutex
	offers []store.TimerState
	forced int
}

func (s *countingSyncer) Offer(st store.TimerState, force bool) {
	s.mu.Lock()
	s.offers = append(s.offers, st)
	if force {
		s.forced++
	}
	s.mu.Unlock()
}

var epoch = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type harness struct {
	engine *Engine
	clock  *clockwork.FakeClock
	store  *store.Store
	player *countingPlayer
	sync   *countingSyncer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fc := clockwork.NewFakeClockAt(epoch)
	st := store.New(store.NewMemoryKV())
	p := &countingPlayer{}
	sy := &countingSyncer{}
	e := New(st, p, Config{Clock: fc, Location: time.UTC, Sync: sy})
	e.Restore(context.Background())
	t.Cleanup(func() {
		e.mu.Lock()
		e.stopTickingLocked()
		e.mu.Unlock()
	})
	return &harness{engine: e, clock: fc, store: st, player: p, sync: sy}
}

func TestSetInitialTimeRejectsNonPositive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for _, s := range []int{0, -1, -3600} {
		if err := h.engine.SetInitialTime(ctx, s); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("SetInitialTime(%d) err = %v, want ErrInvalidInput", s, err)
		}
	}
	if got := h.engine.DisplaySeconds(); got != 0 {
		t.Errorf("state changed after rejected input: %d", got)
	}
	if h.engine.State() != StateIdle {
		t.Errorf("State() = %v, want idle", h.engine.State())
	}
}

func TestSetInitialTimeThenResetRestoresSeconds(t *testing.T) {
	ctx := context.Background()
	for _, seconds := range []int{1, 59, 60, 3600, 7 * 3600} {
		h := newHarness(t)
		if err := h.engine.SetInitialTime(ctx, seconds); err != nil {
			t.Fatal(err)
		}
		if err := h.engine.Start(ctx); err != nil {
			t.Fatal(err)
		}
		h.clock.Advance(500 * time.Millisecond)
		if err := h.engine.Reset(ctx); err != nil {
			t.Fatal(err)
		}
		snap := h.engine.Snapshot()
		if snap.RemainingTime != seconds || snap.IsRunning {
			t.Errorf("after reset: remaining=%d running=%v, want %d stopped", snap.RemainingTime, snap.IsRunning, seconds)
		}
		if snap.AbsoluteEndTime != 0 || snap.AbsoluteStartTime != 0 {
			t.Errorf("absolute markers not cleared: %+v", snap.TimerState)
		}
		if snap.State != StateIdle {
			t.Errorf("State = %v, want idle", snap.State)
		}
	}
}

func TestStartRequiresRemainingTime(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Start(context.Background()); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("Start() err = %v, want ErrInvalidState", err)
	}
}

func TestStartPersistsAbsoluteEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_ = h.engine.SetInitialTime(ctx, 90)
	if err := h.engine.Start(ctx); err != nil {
		t.Fatal(err)
	}
	saved := h.store.Timer(ctx)
	if !saved.IsRunning || saved.AbsoluteEndTime != epoch.Unix()+90 {
		t.Errorf("persisted = %+v, want running with end %d", saved, epoch.Unix()+90)
	}
	if saved.AbsoluteStartTime != epoch.UnixMilli() {
		t.Errorf("absoluteStartTime = %d, want %d", saved.AbsoluteStartTime, epoch.UnixMilli())
	}
	if h.engine.State() != StateRunning {
		t.Errorf("State() = %v", h.engine.State())
	}
}

func TestPauseStartIsDriftFree(t *testing.T) {
	ctx := context.Background()
	offsets := []time.Duration{0, 300 * time.Millisecond, 999 * time.Millisecond, 3500 * time.Millisecond, 42 * time.Second}
	for _, off := range offsets {
		h := newHarness(t)
		_ = h.engine.SetInitialTime(ctx, 600)
		_ = h.engine.Start(ctx)
		h.clock.Advance(off)

		before := h.engine.DisplaySeconds()
		if err := h.engine.Pause(ctx); err != nil {
			t.Fatal(err)
		}
		if err := h.engine.Start(ctx); err != nil {
			t.Fatal(err)
		}
		after := h.engine.DisplaySeconds()
		if diff := before - after; diff < -1 || diff > 1 {
			t.Errorf("offset %v: display moved from %d to %d", off, before, after)
		}
	}
}

func TestPauseUsesWallClock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_ = h.engine.SetInitialTime(ctx, 100)
	_ = h.engine.Start(ctx)
	h.clock.Advance(30 * time.Second)
	if err := h.engine.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	snap := h.engine.Snapshot()
	if snap.RemainingTime != 70 || snap.IsRunning || snap.State != StatePaused {
		t.Errorf("after pause = %+v", snap)
	}
	// pausing again is a no-op
	h.clock.Advance(10 * time.Second)
	_ = h.engine.Pause(ctx)
	if got := h.engine.DisplaySeconds(); got != 70 {
		t.Errorf("second pause changed remaining to %d", got)
	}
}

func TestAddTimeIsModeIndependent(t *testing.T) {
	ctx := context.Background()
	for _, add := range []int{60, 720, -30, -1000} {
		running := newHarness(t)
		_ = running.engine.SetInitialTime(ctx, 200)
		_ = running.engine.Start(ctx)
		running.clock.Advance(50 * time.Second) // 150 left

		paused := newHarness(t)
		_ = paused.engine.SetInitialTime(ctx, 150)

		if err := running.engine.AddTime(ctx, add, 0); err != nil {
			t.Fatal(err)
		}
		if err := paused.engine.AddTime(ctx, add, 0); err != nil {
			t.Fatal(err)
		}
		r := running.engine.Snapshot()
		p := paused.engine.Snapshot()
		if r.RemainingTime != p.RemainingTime {
			t.Errorf("add %d: running=%d paused=%d", add, r.RemainingTime, p.RemainingTime)
		}
		if want := max(0, 150+add); r.RemainingTime != want {
			t.Errorf("add %d: remaining=%d, want %d", add, r.RemainingTime, want)
		}
		if r.AbsoluteEndTime != running.clock.Now().Unix()+int64(r.RemainingTime) {
			t.Errorf("add %d: absoluteEndTime not recomputed: %+v", add, r.TimerState)
		}
	}
}

func TestAddTimeCuesAndStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_ = h.engine.AddTime(ctx, 0, 0)
	if a, _, _ := h.player.counts(); a != 0 {
		t.Errorf("zero add played %d cues", a)
	}

	_ = h.engine.AddTime(ctx, 300, 0) // bits: time only
	if a, _, _ := h.player.counts(); a != 1 {
		t.Errorf("time-only add cues = %d, want 1", a)
	}
	if st := h.engine.Stats(ctx); st.TotalPoints != 0 || st.TotalTimeAdded != 0 {
		t.Errorf("time-only add recorded stats: %+v", st)
	}

	_ = h.engine.AddTime(ctx, 720, 12)
	if a, _, _ := h.player.counts(); a != 2 {
		t.Errorf("point add cues = %d, want 2", a)
	}
	st := h.engine.Stats(ctx)
	if st.TotalPoints != 12 || st.TotalTimeAdded != 720 || len(st.Sessions) != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.Sessions[0].Timestamp != epoch.UnixMilli() {
		t.Errorf("session timestamp = %d", st.Sessions[0].Timestamp)
	}

	_ = h.engine.AddTime(ctx, -60, 0)
	if a, _, _ := h.player.counts(); a != 2 {
		t.Errorf("negative add played a cue")
	}

	if err := h.engine.AddTime(ctx, 60, -1); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("negative points err = %v", err)
	}
}

func TestDailyStatsMonotonicAndResetOnNewDay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	prevPoints, prevTime := 0, 0
	for i := 1; i <= 5; i++ {
		_ = h.engine.AddTime(ctx, i*60, i)
		h.clock.Advance(time.Hour)
		st := h.engine.Stats(ctx)
		if st.TotalPoints < prevPoints || st.TotalTimeAdded < prevTime {
			t.Fatalf("stats decreased: %+v", st)
		}
		prevPoints, prevTime = st.TotalPoints, st.TotalTimeAdded
	}
	if prevPoints != 15 {
		t.Errorf("total points = %d, want 15", prevPoints)
	}

	h.clock.Advance(12 * time.Hour) // next calendar day
	st := h.engine.Stats(ctx)
	if st.TotalPoints != 0 || st.TotalTimeAdded != 0 || len(st.Sessions) != 0 {
		t.Errorf("stats not reset on new day: %+v", st)
	}
	if st.Date != "2026-10-16" {
		t.Errorf("date = %q", st.Date)
	}
}

func TestNegativeAdjustmentCannotCarryPoints(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_ = h.engine.SetInitialTime(ctx, 600)

	if err := h.engine.AddTime(ctx, 300, 5); err != nil {
		t.Fatal(err)
	}
	before := h.engine.Stats(ctx)
	if err := h.engine.AddTime(ctx, -120, 2); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("AddTime(-120, 2) err = %v, want ErrInvalidInput", err)
	}
	after := h.engine.Stats(ctx)
	if after.TotalTimeAdded != before.TotalTimeAdded || after.TotalPoints != before.TotalPoints {
		t.Errorf("stats changed by rejected add: before %+v after %+v", before, after)
	}
	if got := h.engine.Snapshot().RemainingTime; got != 900 {
		t.Errorf("remaining = %d, want 900", got)
	}

	// a plain correction without points still applies
	if err := h.engine.AddTime(ctx, -120, 0); err != nil {
		t.Fatal(err)
	}
	if st := h.engine.Stats(ctx); st.TotalTimeAdded != 300 {
		t.Errorf("totalTimeAdded = %d, want 300", st.TotalTimeAdded)
	}
}

func TestTickFinishesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_ = h.engine.SetInitialTime(ctx, 10)
	_ = h.engine.Start(ctx)

	h.clock.Advance(15 * time.Second)
	h.engine.Tick(ctx)
	h.engine.Tick(ctx)

	snap := h.engine.Snapshot()
	if snap.RemainingTime != 0 || snap.IsRunning {
		t.Errorf("after finish = %+v", snap.TimerState)
	}
	if snap.State != StateFinished || snap.Phase != PhaseFinished {
		t.Errorf("state=%v phase=%v", snap.State, snap.Phase)
	}
	if _, _, f := h.player.counts(); f != 1 {
		t.Errorf("finished cues = %d, want 1", f)
	}
	if saved := h.store.Timer(ctx); saved.IsRunning || saved.RemainingTime != 0 {
		t.Errorf("finish not persisted: %+v", saved)
	}

	// AddTime clears finished.
	_ = h.engine.AddTime(ctx, 60, 0)
	if s := h.engine.State(); s == StateFinished {
		t.Errorf("State() after add = %v", s)
	}
}

func TestWarningOncePerMinuteBoundary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_ = h.engine.SetInitialTime(ctx, 301)
	_ = h.engine.Start(ctx)

	h.engine.Tick(ctx) // 301
	if _, w, _ := h.player.counts(); w != 0 {
		t.Fatalf("warning at 301")
	}

	h.clock.Advance(time.Second) // 300
	h.engine.Tick(ctx)
	h.engine.Tick(ctx)
	if _, w, _ := h.player.counts(); w != 1 {
		t.Fatalf("warnings at 300 = %d, want 1", w)
	}

	h.clock.Advance(59 * time.Second) // 241
	h.engine.Tick(ctx)
	if _, w, _ := h.player.counts(); w != 1 {
		t.Fatalf("warnings at 241 = %d, want 1", w)
	}

	h.clock.Advance(time.Second) // 240
	h.engine.Tick(ctx)
	h.engine.Tick(ctx)
	if _, w, _ := h.player.counts(); w != 2 {
		t.Fatalf("warnings at 240 = %d, want 2", w)
	}
}

func TestWarningRespectsThreshold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	g := store.DefaultGeneralSettings()
	g.WarningTime = 60
	if err := h.store.SaveGeneral(ctx, g); err != nil {
		t.Fatal(err)
	}
	h.engine.Restore(ctx)

	_ = h.engine.SetInitialTime(ctx, 121)
	_ = h.engine.Start(ctx)
	h.clock.Advance(time.Second) // 120
	h.engine.Tick(ctx)
	if _, w, _ := h.player.counts(); w != 0 {
		t.Errorf("warning above 60s threshold")
	}
	h.clock.Advance(60 * time.Second) // 60
	h.engine.Tick(ctx)
	if _, w, _ := h.player.counts(); w != 1 {
		t.Errorf("warnings = %d, want 1", w)
	}
}

func TestTickAlignsToWholeSecond(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClockAt(epoch.Add(400 * time.Millisecond))
	e := New(store.New(store.NewMemoryKV()), &countingPlayer{}, Config{Clock: fc, Location: time.UTC})
	events := e.Subscribe(16)

	_ = e.SetInitialTime(ctx, 100)
	_ = e.Start(ctx)
	defer func() { _ = e.Pause(ctx) }()
	drain(events)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("tick timer never scheduled: %v", err)
	}

	fc.Advance(599 * time.Millisecond)
	select {
	case ev := <-events:
		t.Fatalf("tick before second boundary: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	fc.Advance(time.Millisecond)
	select {
	case ev := <-events:
		if ev.Type != EventTick {
			t.Fatalf("event = %v, want tick", ev.Type)
		}
		if ev.Snapshot.DisplaySeconds != 99 {
			t.Errorf("first tick display = %d, want 99", ev.Snapshot.DisplaySeconds)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick at second boundary")
	}
}

func drain(ch <-chan Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestEveryMutationPersistsAndOffersSync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_ = h.engine.SetInitialTime(ctx, 120)
	_ = h.engine.Start(ctx)
	_ = h.engine.AddTime(ctx, 60, 1)
	_ = h.engine.Pause(ctx)
	_ = h.engine.Reset(ctx)

	h.sync.mu.Lock()
	n, forced := len(h.sync.offers), h.sync.forced
	h.sync.mu.Unlock()
	if n != 5 || forced != 5 {
		t.Errorf("sync offers = %d (forced %d), want 5 forced", n, forced)
	}
	if saved := h.store.Timer(ctx); saved.RemainingTime != 120 || saved.IsRunning {
		t.Errorf("persisted after reset = %+v", saved)
	}
}

func TestRestoreResumesRunningTimer(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClockAt(epoch)
	st := store.New(store.NewMemoryKV())
	_ = st.SaveTimer(ctx, store.TimerState{
		RemainingTime:   500,
		InitialTime:     600,
		IsRunning:       true,
		AbsoluteEndTime: epoch.Unix() + 100,
	})

	e := New(st, &countingPlayer{}, Config{Clock: fc, Location: time.UTC})
	e.Restore(ctx)
	defer func() { _ = e.Pause(ctx) }()

	if e.State() != StateRunning {
		t.Fatalf("State() = %v, want running", e.State())
	}
	if got := e.DisplaySeconds(); got != 100 {
		t.Errorf("DisplaySeconds() = %d, want 100", got)
	}
}

func TestRestoreExpiredRunIsFinished(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClockAt(epoch)
	st := store.New(store.NewMemoryKV())
	_ = st.SaveTimer(ctx, store.TimerState{
		RemainingTime:   30,
		InitialTime:     60,
		IsRunning:       true,
		AbsoluteEndTime: epoch.Unix() - 10,
	})
	p := &countingPlayer{}
	e := New(st, p, Config{Clock: fc, Location: time.UTC})
	e.Restore(ctx)

	if e.State() != StateFinished {
		t.Errorf("State() = %v, want finished", e.State())
	}
	if _, _, f := p.counts(); f != 0 {
		t.Errorf("finished cue played on restore")
	}
	if saved := st.Timer(ctx); saved.IsRunning {
		t.Errorf("restored expiry not persisted: %+v", saved)
	}
}

func TestRunCheckpointsOnShutdown(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	st := store.New(store.NewMemoryKV())
	_ = st.SaveTimer(context.Background(), store.TimerState{
		RemainingTime:   100,
		InitialTime:     100,
		IsRunning:       true,
		AbsoluteEndTime: epoch.Unix() + 100,
	})
	e := New(st, &countingPlayer{}, Config{Clock: fc, Location: time.UTC})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for e.State() != StateRunning {
		select {
		case <-deadline:
			t.Fatal("engine never resumed")
		case <-time.After(time.Millisecond):
		}
	}
	fc.Advance(20 * time.Second)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}
	saved := st.Timer(context.Background())
	if !saved.IsRunning || saved.RemainingTime != 80 {
		t.Errorf("checkpoint = %+v, want running with 80 left", saved)
	}
}

type readCountingStore struct {
	*store.Store
	mu    sync.Mutex
	reads int
}

func (s *readCountingStore) Timer(ctx context.Context) store.TimerState {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.Store.Timer(ctx)
}

func TestRunDoesNotRestoreTwice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fc := clockwork.NewFakeClockAt(epoch)
	st := &readCountingStore{Store: store.New(store.NewMemoryKV())}
	_ = st.SaveTimer(ctx, store.TimerState{RemainingTime: 100, InitialTime: 100})
	e := New(st, &countingPlayer{}, Config{Clock: fc, Location: time.UTC})

	e.Restore(ctx)
	if err := e.AddTime(ctx, 60, 1); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}
	st.mu.Lock()
	reads := st.reads
	st.mu.Unlock()
	if reads != 1 {
		t.Errorf("timer state loaded %d times, want 1", reads)
	}
	if got := st.Store.Timer(context.Background()).RemainingTime; got != 160 {
		t.Errorf("remaining after Run = %d, want 160", got)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ch := h.engine.Subscribe(4)

	_ = h.engine.SetInitialTime(ctx, 60)
	_ = h.engine.AddTime(ctx, 60, 1)

	ev := <-ch
	if ev.Type != EventChanged || ev.Snapshot.RemainingTime != 60 {
		t.Errorf("first event = %+v", ev)
	}
	ev = <-ch
	if ev.Type != EventAdded || ev.Seconds != 60 || ev.Points != 1 || ev.Snapshot.RemainingTime != 120 {
		t.Errorf("second event = %+v", ev)
	}

	h.engine.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel not closed after Unsubscribe")
	}
}

func TestSnapshotPhase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if p := h.engine.Snapshot().Phase; p != PhaseNormal {
		t.Errorf("fresh phase = %v", p)
	}
	_ = h.engine.SetInitialTime(ctx, 3600)
	if s := h.engine.Snapshot(); s.Phase != PhaseNormal || s.Display != "01:00:00" {
		t.Errorf("snapshot = %+v", s)
	}
	_ = h.engine.SetInitialTime(ctx, 299)
	if p := h.engine.Snapshot().Phase; p != PhaseWarning {
		t.Errorf("phase at 299 = %v", p)
	}
}

func TestShouldPersist(t *testing.T) {
	tests := []struct {
		remaining int
		since     time.Duration
		want      bool
	}{
		{3600, 9 * time.Second, false},
		{3600, 10 * time.Second, true},
		{61, 5 * time.Second, false},
		{60, 4 * time.Second, false},
		{60, 5 * time.Second, true},
		{11, 5 * time.Second, true},
		{10, 900 * time.Millisecond, false},
		{10, time.Second, true},
		{1, time.Second, true},
	}
	for _, tt := range tests {
		if got := ShouldPersist(tt.remaining, tt.since); got != tt.want {
			t.Errorf("ShouldPersist(%d, %v) = %v, want %v", tt.remaining, tt.since, got, tt.want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	tests := map[int]string{0: "00:00:00", 59: "00:00:59", 61: "00:01:01", 3661: "01:01:01", -5: "00:00:00", 360000: "100:00:00"}
	for in, want := range tests {
		if got := FormatClock(in); got != want {
			t.Errorf("FormatClock(%d) = %q, want %q", in, got, want)
		}
	}
}
