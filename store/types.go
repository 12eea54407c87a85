package store

import (
	"fmt"

	"github.com/onnwee/overtime-timer/backend/apperr"
)

// TimerState is the persisted countdown record. While IsRunning, AbsoluteEndTime
// (unix seconds) is authoritative; otherwise RemainingTime is.
type TimerState struct {
	RemainingTime     int   `json:"remainingTime"`
	InitialTime       int   `json:"initialTime"`
	IsRunning         bool  `json:"isRunning"`
	StartTime         int64 `json:"startTime"`         // ms, last running checkpoint
	AbsoluteStartTime int64 `json:"absoluteStartTime"` // ms, start of the current run segment
	AbsoluteEndTime   int64 `json:"absoluteEndTime"`   // unix seconds
}

// RemoteTimerState is the shared mirror written by remote-sync clients.
type RemoteTimerState struct {
	TimerState
	LastUpdate int64 `json:"lastUpdate"`
}

// ActualRemaining derives the remaining seconds at nowMs. Running states prefer the
// absolute end time and fall back to the elapsed time since StartTime.
func (r RemoteTimerState) ActualRemaining(nowMs int64) int {
	if !r.IsRunning || r.RemainingTime <= 0 {
		return r.RemainingTime
	}
	var rem int64
	if r.AbsoluteEndTime > 0 {
		rem = r.AbsoluteEndTime - nowMs/1000
	} else {
		rem = int64(r.RemainingTime) - (nowMs-r.StartTime)/1000
	}
	if rem < 0 {
		return 0
	}
	return int(rem)
}

// Session is one point-bearing addition.
type Session struct {
	Timestamp int64 `json:"timestamp"` // ms
	Points    int   `json:"points"`
	TimeAdded int   `json:"timeAdded"` // seconds
}

// DailyStats accumulates point-bearing additions for one calendar day.
type DailyStats struct {
	Date           string    `json:"date"`
	TotalPoints    int       `json:"totalPoints"`
	TotalTimeAdded int       `json:"totalTimeAdded"`
	Sessions       []Session `json:"sessions"`
}

// NewDailyStats returns an empty record for day.
func NewDailyStats(day string) DailyStats {
	return DailyStats{Date: day, Sessions: []Session{}}
}

// GeneralSettings holds the operator preferences read by the engine.
type GeneralSettings struct {
	SoundEnabled bool `json:"soundEnabled"`
	WarningTime  int  `json:"warningTime"` // seconds
	AutoSave     bool `json:"autoSave"`
}

// DefaultGeneralSettings returns sound on, a five minute warning and autosave on.
func DefaultGeneralSettings() GeneralSettings {
	return GeneralSettings{SoundEnabled: true, WarningTime: 300, AutoSave: true}
}

// Validate bounds the warning threshold to one day.
func (g GeneralSettings) Validate() error {
	if g.WarningTime < 0 || g.WarningTime > 86400 {
		return fmt.Errorf("warningTime %d must be within [0,86400]: %w", g.WarningTime, apperr.ErrInvalidInput)
	}
	return nil
}

// Tier plan identifiers as sent in msg-param-sub-plan.
const (
	PlanTier1 = "1000"
	PlanTier2 = "2000"
	PlanTier3 = "3000"
)

// TierSettings maps each subscription tier to minutes.
type TierSettings struct {
	Tier1 int `json:"tier1"`
	Tier2 int `json:"tier2"`
	Tier3 int `json:"tier3"`
}

// DefaultTierSettings returns 1/3/5 minutes.
func DefaultTierSettings() TierSettings {
	return TierSettings{Tier1: 1, Tier2: 3, Tier3: 5}
}

// Validate requires every tier within [1,60].
func (t TierSettings) Validate() error {
	for i, m := range []int{t.Tier1, t.Tier2, t.Tier3} {
		if m < 1 || m > 60 {
			return fmt.Errorf("tier%d minutes %d must be within [1,60]: %w", i+1, m, apperr.ErrInvalidInput)
		}
	}
	return nil
}

// Minutes resolves a sub plan to minutes. An empty plan is tier 1; Prime and unknown
// plans resolve to the tier 1 value.
func (t TierSettings) Minutes(plan string) int {
	switch plan {
	case PlanTier2:
		return t.Tier2
	case PlanTier3:
		return t.Tier3
	default:
		return t.Tier1
	}
}

// DonationSettings converts bits into minutes.
type DonationSettings struct {
	Rate      float64 `json:"rate"`      // minutes per bit
	MinAmount int     `json:"minAmount"` // bits
	MaxTime   int     `json:"maxTime"`   // minutes per donation
}

// DefaultDonationSettings returns 0.1 min/bit, 100 bits minimum, 30 minutes cap.
func DefaultDonationSettings() DonationSettings {
	return DonationSettings{Rate: 0.1, MinAmount: 100, MaxTime: 30}
}

// Validate checks rate in [0.01,10], minAmount in [1,10000] and maxTime in [1,180].
func (d DonationSettings) Validate() error {
	switch {
	case d.Rate < 0.01 || d.Rate > 10:
		return fmt.Errorf("rate %v must be within [0.01,10]: %w", d.Rate, apperr.ErrInvalidInput)
	case d.MinAmount < 1 || d.MinAmount > 10000:
		return fmt.Errorf("minAmount %d must be within [1,10000]: %w", d.MinAmount, apperr.ErrInvalidInput)
	case d.MaxTime < 1 || d.MaxTime > 180:
		return fmt.Errorf("maxTime %d must be within [1,180]: %w", d.MaxTime, apperr.ErrInvalidInput)
	}
	return nil
}

// Minutes converts bits. ok is false when bits is below MinAmount. The result is
// floor(bits*rate) capped at MaxTime; clamped reports whether the cap applied.
func (d DonationSettings) Minutes(bits int) (minutes int, clamped, ok bool) {
	if bits <= 0 || bits < d.MinAmount {
		return 0, false, false
	}
	minutes = int(float64(bits) * d.Rate)
	if minutes > d.MaxTime {
		return d.MaxTime, true, true
	}
	return minutes, false, true
}

// ChatSettings is the persisted part of the chat connection state.
type ChatSettings struct {
	ChannelName string `json:"channelName"`
}
