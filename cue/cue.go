// Package cue requests audible cues from whatever presentation surface is attached.
// Playback itself happens outside this process; a cue is only a named request.
package cue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/onnwee/overtime-timer/backend/store"
	"github.com/onnwee/overtime-timer/backend/telemetry"
)

// Cue names a sound.
type Cue string

const (
	Added    Cue = "added"
	Warning  Cue = "warning"
	Finished Cue = "finished"
)

// Player is consumed by the engine. Implementations never fail.
type Player interface {
	PlayAdded()
	PlayWarning()
	PlayFinished()
	Enable()
}

// Sink receives cue requests, e.g. the display event hub.
type Sink interface {
	PlayCue(c Cue)
}

// SettingsSource supplies the soundEnabled preference.
type SettingsSource interface {
	General(ctx context.Context) store.GeneralSettings
}

// Gate is the Player used in production. It forwards cues to its sinks once enabled and
// only while sound is switched on in the general settings.
type Gate struct {
	mu       sync.Mutex
	enabled  bool
	settings SettingsSource
	sinks    []Sink
}

// NewGate returns a suspended gate. settings may be nil, meaning sound is always on.
func NewGate(settings SettingsSource, sinks ...Sink) *Gate {
	return &Gate{settings: settings, sinks: sinks}
}

// Enable lifts the suspension. It is called when the first display surface attaches.
func (g *Gate) Enable() {
	g.mu.Lock()
	if !g.enabled {
		slog.Debug("cues enabled", slog.String("component", "cue"))
	}
	g.enabled = true
	g.mu.Unlock()
}

// Suspend stops forwarding until the next Enable.
func (g *Gate) Suspend() {
	g.mu.Lock()
	g.enabled = false
	g.mu.Unlock()
}

// Enabled reports whether the gate is forwarding.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// AddSink attaches another sink.
func (g *Gate) AddSink(s Sink) {
	g.mu.Lock()
	g.sinks = append(g.sinks, s)
	g.mu.Unlock()
}

func (g *Gate) PlayAdded()    { g.play(Added) }
func (g *Gate) PlayWarning()  { g.play(Warning) }
func (g *Gate) PlayFinished() { g.play(Finished) }

func (g *Gate) play(c Cue) {
	g.mu.Lock()
	enabled := g.enabled
	sinks := append([]Sink(nil), g.sinks...)
	g.mu.Unlock()
	if !enabled {
		return
	}
	if g.settings != nil && !g.settings.General(context.Background()).SoundEnabled {
		return
	}
	telemetry.RecordCue(string(c))
	for _, s := range sinks {
		s.PlayCue(c)
	}
}

// LogSink writes each cue to the default logger.
type LogSink struct{}

func (LogSink) PlayCue(c Cue) {
	slog.Info("cue", slog.String("component", "cue"), slog.String("cue", string(c)))
}

// Nop is a Player that does nothing.
type Nop struct{}

func (Nop) PlayAdded()    {}
func (Nop) PlayWarning()  {}
func (Nop) PlayFinished() {}
func (Nop) Enable()       {}
