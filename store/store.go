// Package store is the persistent store shared by the countdown engine, the chat
// pipeline and the HTTP layer. Values are JSON documents under fixed keys. Reads never
// fail: a missing or corrupt value falls back to its defaults. Writes return an error
// wrapping apperr.ErrStorage that callers log and absorb.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/onnwee/overtime-timer/backend/apperr"
	"github.com/onnwee/overtime-timer/backend/telemetry"
)

// Keys under which each record is stored.
const (
	KeyTimer       = "twitchTimer_data"
	KeyDailyStats  = "twitchTimer_dailyStats"
	KeySettings    = "twitchTimer_settings"
	KeyTiers       = "twitchTierSettings"
	KeyDonation    = "twitchTimer_donationSettings"
	KeyChat        = "twitchChatSettings"
	KeyRemoteTimer = "remoteTimer_state"
)

// Store provides typed access to the records kept in a KV.
type Store struct {
	kv     KV
	logger *slog.Logger
}

// New returns a Store over kv.
func New(kv KV) *Store {
	return &Store{kv: kv, logger: slog.Default().With(slog.String("component", "store"))}
}

// Ping reports whether the backing KV is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.kv.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w: %v", apperr.ErrStorage, err)
	}
	return nil
}

// load decodes key onto def. Fields absent from the stored document keep their
// default value. Any failure yields def unchanged.
func load[T any](ctx context.Context, s *Store, key string, def T) T {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("read failed, using defaults", slog.String("key", key), slog.Any("err", err))
		return def
	}
	if !ok || raw == "" {
		return def
	}
	out := def
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.logger.Warn("corrupt value, using defaults", slog.String("key", key), slog.Any("err", err))
		return def
	}
	return out
}

func (s *Store) save(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w: %v", key, apperr.ErrStorage, err)
	}
	err = s.kv.Set(ctx, key, string(b))
	telemetry.RecordStoreWrite(err)
	if err != nil {
		return fmt.Errorf("write %s: %w: %v", key, apperr.ErrStorage, err)
	}
	return nil
}

func (s *Store) remove(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w: %v", key, apperr.ErrStorage, err)
	}
	return nil
}

// Timer returns the persisted timer state.
func (s *Store) Timer(ctx context.Context) TimerState {
	t := load(ctx, s, KeyTimer, TimerState{})
	if t.RemainingTime < 0 {
		t.RemainingTime = 0
	}
	if t.InitialTime < 0 {
		t.InitialTime = 0
	}
	return t
}

// SaveTimer persists the timer state.
func (s *Store) SaveTimer(ctx context.Context, t TimerState) error {
	return s.save(ctx, KeyTimer, t)
}

// DailyStats returns the statistics for day. A record stored for any other day is
// discarded and a zeroed record for day is returned.
func (s *Store) DailyStats(ctx context.Context, day string) DailyStats {
	fresh := NewDailyStats(day)
	st := load(ctx, s, KeyDailyStats, fresh)
	if st.Date != day {
		return fresh
	}
	if st.Sessions == nil {
		st.Sessions = []Session{}
	}
	return st
}

// SaveDailyStats persists stats.
func (s *Store) SaveDailyStats(ctx context.Context, stats DailyStats) error {
	return s.save(ctx, KeyDailyStats, stats)
}

// General returns the general settings.
func (s *Store) General(ctx context.Context) GeneralSettings {
	g := load(ctx, s, KeySettings, DefaultGeneralSettings())
	if g.WarningTime < 0 {
		g.WarningTime = DefaultGeneralSettings().WarningTime
	}
	return g
}

// SaveGeneral validates and persists the general settings.
func (s *Store) SaveGeneral(ctx context.Context, g GeneralSettings) error {
	if err := g.Validate(); err != nil {
		return err
	}
	return s.save(ctx, KeySettings, g)
}

// Tiers returns the tier settings. Non-positive stored values resolve to the default
// for that tier.
func (s *Store) Tiers(ctx context.Context) TierSettings {
	def := DefaultTierSettings()
	t := load(ctx, s, KeyTiers, def)
	if t.Tier1 <= 0 {
		t.Tier1 = def.Tier1
	}
	if t.Tier2 <= 0 {
		t.Tier2 = def.Tier2
	}
	if t.Tier3 <= 0 {
		t.Tier3 = def.Tier3
	}
	return t
}

// SaveTiers validates and persists the tier settings.
func (s *Store) SaveTiers(ctx context.Context, t TierSettings) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return s.save(ctx, KeyTiers, t)
}

// DeleteTiers removes the stored tier settings so defaults apply again.
func (s *Store) DeleteTiers(ctx context.Context) error {
	return s.remove(ctx, KeyTiers)
}

// Donation returns the bits conversion settings.
func (s *Store) Donation(ctx context.Context) DonationSettings {
	d := load(ctx, s, KeyDonation, DefaultDonationSettings())
	if d.Validate() != nil {
		s.logger.Warn("stored donation settings out of range, using defaults", slog.Any("settings", d))
		return DefaultDonationSettings()
	}
	return d
}

// SaveDonation validates and persists the bits conversion settings.
func (s *Store) SaveDonation(ctx context.Context, d DonationSettings) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return s.save(ctx, KeyDonation, d)
}

// Chat returns the persisted chat settings.
func (s *Store) Chat(ctx context.Context) ChatSettings {
	return load(ctx, s, KeyChat, ChatSettings{})
}

// SaveChat persists the chat settings.
func (s *Store) SaveChat(ctx context.Context, c ChatSettings) error {
	return s.save(ctx, KeyChat, c)
}

// RemoteTimer returns the state last pushed by a remote-sync client.
func (s *Store) RemoteTimer(ctx context.Context) RemoteTimerState {
	return load(ctx, s, KeyRemoteTimer, RemoteTimerState{})
}

// MergeRemoteTimer decodes the JSON document patch onto the stored remote state, stamps
// lastUpdate and persists the result. Fields absent from patch are kept.
func (s *Store) MergeRemoteTimer(ctx context.Context, patch []byte, nowMs int64) (RemoteTimerState, error) {
	cur := s.RemoteTimer(ctx)
	if len(patch) > 0 {
		if err := json.Unmarshal(patch, &cur); err != nil {
			return cur, fmt.Errorf("decode timer state: %w: %v", apperr.ErrInvalidInput, err)
		}
	}
	cur.LastUpdate = nowMs
	return cur, s.save(ctx, KeyRemoteTimer, cur)
}

// ResetRemoteTimer replaces the remote state with a zeroed one.
func (s *Store) ResetRemoteTimer(ctx context.Context, nowMs int64) (RemoteTimerState, error) {
	st := RemoteTimerState{LastUpdate: nowMs}
	return st, s.save(ctx, KeyRemoteTimer, st)
}
