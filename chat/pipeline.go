package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/overtime-timer/backend/apperr"
	"github.com/onnwee/overtime-timer/backend/irc"
	"github.com/onnwee/overtime-timer/backend/store"
	"github.com/onnwee/overtime-timer/backend/telemetry"
)

// ConnState is the connection state machine position.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// ConnectionStatus is published on every state change.
type ConnectionStatus struct {
	ChannelName       string    `json:"channelName"`
	State             ConnState `json:"state"`
	Connected         bool      `json:"connected"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
}

// Engine receives the converted add-time commands.
type Engine interface {
	AddTime(ctx context.Context, seconds, points int) error
}

// SettingsStore holds the records the pipeline reads and edits.
type SettingsStore interface {
	Tiers(ctx context.Context) store.TierSettings
	SaveTiers(ctx context.Context, t store.TierSettings) error
	DeleteTiers(ctx context.Context) error
	Donation(ctx context.Context) store.DonationSettings
	SaveDonation(ctx context.Context, d store.DonationSettings) error
	Chat(ctx context.Context) store.ChatSettings
	SaveChat(ctx context.Context, c store.ChatSettings) error
}

// Config tunes the pipeline. Zero values take the defaults.
type Config struct {
	URL            string        // DefaultURL
	ConnectTimeout time.Duration // 5s
	ReconnectDelay time.Duration // 5s
	MaxReconnects  int           // 5
	Clock          clockwork.Clock
	// DedupeGifts skips subgift notices that belong to an already counted mystery
	// gift. Off by default: every notice adds time.
	DedupeGifts bool
}

// Pipeline owns the chat connection. State transitions are serialised by mu; lines
// are read on one goroutine per connection.
type Pipeline struct {
	engine   Engine
	settings SettingsStore
	notifier Notifier
	dialer   Dialer
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger

	mu        sync.Mutex
	state     ConnState
	channel   string
	attempts  int
	conn      Conn
	gen       uint64 // bumped whenever the current connection is superseded
	confirmed chan struct{}
	reconnect clockwork.Timer
	gifts     giftLedger
}

// New builds a disconnected pipeline. The channel name is loaded from the store.
func New(ctx context.Context, engine Engine, settings SettingsStore, dialer Dialer, notifier Notifier, cfg Config) *Pipeline {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 5
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if dialer == nil {
		dialer = WSDialer{}
	}
	return &Pipeline{
		engine:   engine,
		settings: settings,
		notifier: notifier,
		dialer:   dialer,
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   slog.Default().With(slog.String("component", "chat")),
		state:    StateDisconnected,
		channel:  settings.Chat(ctx).ChannelName,
	}
}

// NormalizeChannel lower-cases name and strips a leading '#'.
func NormalizeChannel(name string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "#")
}

// Status returns the current connection state.
func (p *Pipeline) Status() ConnectionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Pipeline) statusLocked() ConnectionStatus {
	return ConnectionStatus{
		ChannelName:       p.channel,
		State:             p.state,
		Connected:         p.state == StateConnected,
		ReconnectAttempts: p.attempts,
	}
}

// Connect joins channel and waits for the end-of-names confirmation. An existing
// connection is closed normally first. On timeout the connection is abandoned and
// ErrConnectionTimeout returned.
func (p *Pipeline) Connect(ctx context.Context, channel string) error {
	name := NormalizeChannel(channel)
	if name == "" {
		return fmt.Errorf("connect: empty channel name: %w", apperr.ErrInvalidInput)
	}

	p.mu.Lock()
	old := p.conn
	p.conn = nil
	p.gen++
	p.stopReconnectLocked()
	p.channel = name
	p.attempts = 0
	p.mu.Unlock()
	if old != nil {
		_ = old.Close(CloseNormal, "switching channel")
	}

	if err := p.settings.SaveChat(ctx, store.ChatSettings{ChannelName: name}); err != nil {
		p.logger.Warn("save channel failed", slog.Any("err", err))
	}
	return p.dial(ctx, false)
}

// Disconnect closes the connection normally and cancels any pending reconnect.
func (p *Pipeline) Disconnect(_ context.Context) error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.gen++
	p.stopReconnectLocked()
	p.state = StateDisconnected
	p.attempts = 0
	status := p.statusLocked()
	p.mu.Unlock()

	if conn != nil {
		_ = conn.Close(CloseNormal, "manual disconnect")
	}
	telemetry.SetChatConnected(false)
	p.logger.Info("disconnected", slog.String("channel", status.ChannelName))
	p.notifier.ConnectionChanged(status)
	return nil
}

// dial opens a connection, performs the anonymous handshake and waits for confirmation.
// auto marks a reconnect attempt: its failures feed the reconnect policy instead of
// being reported to a caller.
func (p *Pipeline) dial(ctx context.Context, auto bool) error {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	channel := p.channel
	p.state = StateConnecting
	confirmed := make(chan struct{})
	p.confirmed = confirmed
	status := p.statusLocked()
	p.mu.Unlock()
	p.notifier.ConnectionChanged(status)

	// One deadline covers both the dial and the wait for the join confirmation.
	deadline := p.clock.Now().Add(p.cfg.ConnectTimeout)
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()
	conn, err := p.dialer.Dial(dialCtx, p.cfg.URL)
	if err != nil {
		p.closed(gen, CloseAbnormal, err)
		return fmt.Errorf("dial %s: %w: %v", p.cfg.URL, apperr.ErrConnection, err)
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		_ = conn.Close(CloseNormal, "superseded")
		return fmt.Errorf("connect #%s: superseded: %w", channel, apperr.ErrConnection)
	}
	p.conn = conn
	p.mu.Unlock()

	go p.readLoop(conn, gen)

	for _, line := range handshake(channel) {
		if err := conn.Send(line); err != nil {
			p.closed(gen, CloseAbnormal, err)
			_ = conn.Close(CloseAbnormal, "handshake failed")
			return fmt.Errorf("handshake: %w: %v", apperr.ErrConnection, err)
		}
	}

	timeout := p.clock.NewTimer(max(0, deadline.Sub(p.clock.Now())))
	defer timeout.Stop()
	select {
	case <-confirmed:
		return nil
	case <-timeout.Chan():
		err = fmt.Errorf("join #%s: no confirmation within %s: %w", channel, p.cfg.ConnectTimeout, apperr.ErrConnectionTimeout)
	case <-ctx.Done():
		err = fmt.Errorf("join #%s: %w", channel, ctx.Err())
	}

	// A manual attempt that timed out is abandoned; an automatic one counts as an
	// abnormal closure so the retry budget keeps draining.
	code := CloseNormal
	if auto {
		code = CloseAbnormal
	}
	if p.closed(gen, code, err) {
		_ = conn.Close(CloseNormal, "connect timeout")
	}
	return err
}

func handshake(channel string) []string {
	return []string{
		"PASS SCHMOOPIIE",
		fmt.Sprintf("NICK justinfan%d", 1000+rand.IntN(89000)),
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"JOIN #" + channel,
	}
}

func (p *Pipeline) readLoop(conn Conn, gen uint64) {
	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			p.closed(gen, CloseCode(err), err)
			return
		}
		for _, line := range strings.Split(frame, "\n") {
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			if !p.current(gen) {
				return
			}
			p.HandleLine(context.Background(), line)
		}
	}
}

func (p *Pipeline) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.gen
}

// closed applies the reconnect policy to the end of connection gen. It reports false
// when gen was already superseded.
func (p *Pipeline) closed(gen uint64, code int, cause error) bool {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return false
	}
	p.gen++
	p.conn = nil
	p.state = StateDisconnected
	retry := code != CloseNormal && p.attempts < p.cfg.MaxReconnects
	if retry {
		p.scheduleReconnectLocked()
	}
	status := p.statusLocked()
	p.mu.Unlock()

	telemetry.SetChatConnected(false)
	attrs := []any{slog.String("channel", status.ChannelName), slog.Int("code", code), slog.Int("attempts", status.ReconnectAttempts)}
	if cause != nil {
		attrs = append(attrs, slog.Any("err", cause))
	}
	switch {
	case retry:
		p.logger.Warn("connection lost, reconnecting", append(attrs, slog.Duration("delay", p.cfg.ReconnectDelay))...)
	case code != CloseNormal:
		p.logger.Error("connection lost, giving up", attrs...)
	default:
		p.logger.Info("connection closed", attrs...)
	}
	p.notifier.ConnectionChanged(status)
	return true
}

func (p *Pipeline) scheduleReconnectLocked() {
	p.stopReconnectLocked()
	var t clockwork.Timer
	t = p.clock.AfterFunc(p.cfg.ReconnectDelay, func() {
		p.mu.Lock()
		if p.reconnect != t {
			p.mu.Unlock()
			return
		}
		p.reconnect = nil
		p.attempts++
		attempt := p.attempts
		p.mu.Unlock()

		telemetry.RecordReconnect()
		p.logger.Info("reconnect attempt", slog.Int("attempt", attempt), slog.Int("max", p.cfg.MaxReconnects))
		if err := p.dial(context.Background(), true); err != nil {
			p.logger.Debug("reconnect attempt failed", slog.Int("attempt", attempt), slog.Any("err", err))
		}
	})
	p.reconnect = t
}

func (p *Pipeline) stopReconnectLocked() {
	if p.reconnect != nil {
		p.reconnect.Stop()
		p.reconnect = nil
	}
}

// HandleLine processes one protocol line. Unparseable or irrelevant lines are ignored.
func (p *Pipeline) HandleLine(ctx context.Context, line string) {
	telemetry.RecordChatLine()
	if strings.HasPrefix(line, "PING") {
		payload := strings.TrimSpace(strings.TrimPrefix(line, "PING"))
		if payload == "" {
			payload = ":tmi.twitch.tv"
		}
		p.send("PONG " + payload)
		return
	}

	msg, ok := irc.Parse(line)
	if !ok {
		return
	}
	switch msg.Command {
	case "366":
		p.confirm()
	case "RECONNECT":
		p.serverReconnect()
	case "USERNOTICE":
		p.apply(ctx, p.userNotice(ctx, msg))
	case "PRIVMSG":
		p.apply(ctx, p.bits(ctx, msg))
	}
}

func (p *Pipeline) send(line string) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Send(line); err != nil {
		p.logger.Warn("send failed", slog.String("line", line), slog.Any("err", err))
	}
}

func (p *Pipeline) confirm() {
	p.mu.Lock()
	if p.state == StateConnected {
		p.mu.Unlock()
		return
	}
	p.state = StateConnected
	p.attempts = 0
	if p.confirmed != nil {
		close(p.confirmed)
		p.confirmed = nil
	}
	status := p.statusLocked()
	p.mu.Unlock()

	telemetry.SetChatConnected(true)
	p.logger.Info("joined channel", slog.String("channel", status.ChannelName))
	p.notifier.ConnectionChanged(status)
}

// serverReconnect handles a server RECONNECT notice as an abnormal closure.
func (p *Pipeline) serverReconnect() {
	p.mu.Lock()
	conn, gen := p.conn, p.gen
	p.mu.Unlock()
	if conn == nil {
		return
	}
	if p.closed(gen, CloseServiceRestart, errors.New("server requested reconnect")) {
		_ = conn.Close(CloseNormal, "server reconnect")
	}
}

// apply issues a grant to the engine and notifies the presentation layer. The engine
// requests the "added" cue itself.
func (p *Pipeline) apply(ctx context.Context, g *Grant) {
	if g == nil {
		return
	}
	if err := p.engine.AddTime(ctx, g.Seconds, g.Points); err != nil {
		p.logger.Warn("add time failed", slog.String("kind", g.Kind), slog.Any("err", err))
		return
	}
	telemetry.RecordChatEvent(g.Kind)
	p.logger.Info("time added from chat",
		slog.String("kind", g.Kind),
		slog.Int("seconds", g.Seconds),
		slog.Int("points", g.Points),
		slog.String("user", g.User))
	p.notifier.Notify(g.Notification)
}

// TierSettings returns the current tier minutes.
func (p *Pipeline) TierSettings(ctx context.Context) store.TierSettings {
	return p.settings.Tiers(ctx)
}

// UpdateTierSettings validates and stores new tier minutes.
func (p *Pipeline) UpdateTierSettings(ctx context.Context, tier1, tier2, tier3 int) error {
	t := store.TierSettings{Tier1: tier1, Tier2: tier2, Tier3: tier3}
	if err := t.Validate(); err != nil {
		return err
	}
	return p.settings.SaveTiers(ctx, t)
}

// ResetTierSettings removes the stored tiers so the defaults apply.
func (p *Pipeline) ResetTierSettings(ctx context.Context) error {
	return p.settings.DeleteTiers(ctx)
}

// DonationSettings returns the current bits conversion.
func (p *Pipeline) DonationSettings(ctx context.Context) store.DonationSettings {
	return p.settings.Donation(ctx)
}

// UpdateDonationSettings validates and stores a new bits conversion.
func (p *Pipeline) UpdateDonationSettings(ctx context.Context, d store.DonationSettings) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return p.settings.SaveDonation(ctx, d)
}

// ResetDonationSettings stores the default bits conversion.
func (p *Pipeline) ResetDonationSettings(ctx context.Context) error {
	return p.settings.SaveDonation(ctx, store.DefaultDonationSettings())
}
