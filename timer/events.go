package timer

import (
	"fmt"
	"time"

	"github.com/onnwee/overtime-timer/backend/store"
)

// State is the engine's position in its state machine.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateFinished State = "finished"
)

// Phase is the display hint derived from the remaining time.
type Phase string

const (
	PhaseNormal   Phase = "normal"
	PhaseWarning  Phase = "warning"
	PhaseFinished Phase = "finished"
)

// Snapshot is a read-only copy of the engine for presentation.
type Snapshot struct {
	store.TimerState
	DisplaySeconds int    `json:"displaySeconds"`
	State          State  `json:"state"`
	Phase          Phase  `json:"phase"`
	Display        string `json:"display"` // HH:MM:SS
}

// EventType identifies an engine event.
type EventType string

const (
	EventChanged  EventType = "changed"  // a command mutated the state
	EventTick     EventType = "tick"     // periodic recompute while running
	EventAdded    EventType = "added"    // time was added
	EventWarning  EventType = "warning"  // warning threshold crossed a minute boundary
	EventFinished EventType = "finished" // countdown reached zero
)

// Event is published to subscribers.
type Event struct {
	Type     EventType `json:"type"`
	Seconds  int       `json:"seconds,omitempty"`
	Points   int       `json:"points,omitempty"`
	Snapshot Snapshot  `json:"snapshot"`
	At       time.Time `json:"at"`
}

// FormatClock renders seconds as HH:MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
