package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/overtime-timer/backend/apperr"
	"github.com/onnwee/overtime-timer/backend/store"
)

type addCall struct{ seconds, points int }

type fakeEngine struct {
	mu    sync.Mutex
	calls []addCall
}

func (e *fakeEngine) AddTime(_ context.Context, seconds, points int) error {
	e.mu.Lock()
	e.calls = append(e.calls, addCall{seconds, points})
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) snapshot() []addCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]addCall(nil), e.calls...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	notes    []Notification
	statuses []ConnectionStatus
}

func (n *recordingNotifier) Notify(x Notification) {
	n.mu.Lock()
	n.notes = append(n.notes, x)
	n.mu.Unlock()
}

func (n *recordingNotifier) ConnectionChanged(s ConnectionStatus) {
	n.mu.Lock()
	n.statuses = append(n.statuses, s)
	n.mu.Unlock()
}

func (n *recordingNotifier) notifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.notes...)
}

type fakeConn struct {
	mu         sync.Mutex
	sent       []string
	in         chan string
	closed     chan struct{}
	once       sync.Once
	remoteCode int
	closedWith int
	confirm    bool
}

func newFakeConn(confirm bool) *fakeConn {
	return &fakeConn{in: make(chan string, 16), closed: make(chan struct{}), confirm: confirm}
}

func (c *fakeConn) ReadMessage() (string, error) {
	select {
	case l := <-c.in:
		return l, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return "", &CloseError{Code: c.remoteCode, Text: "closed"}
	}
}

func (c *fakeConn) Send(line string) error {
	c.mu.Lock()
	c.sent = append(c.sent, line)
	confirm := c.confirm
	c.mu.Unlock()
	if confirm && strings.HasPrefix(line, "JOIN #") {
		c.in <- ":justinfan1.tmi.twitch.tv 353 justinfan1 = " + line[5:] + " :justinfan1\r\n" +
			":justinfan1.tmi.twitch.tv 366 justinfan1 " + line[5:] + " :End of /NAMES list\r\n"
	}
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.mu.Lock()
	if c.closedWith == 0 {
		c.closedWith = code
		c.remoteCode = code
	}
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server closing the connection.
func (c *fakeConn) drop(code int) {
	c.mu.Lock()
	c.remoteCode = code
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
}

func (c *fakeConn) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeConn) closeCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedWith
}

type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	confirm bool
	fail    error
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		d.conns = append(d.conns, nil)
		return nil, d.fail
	}
	c := newFakeConn(d.confirm)
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) set(confirm bool, fail error) {
	d.mu.Lock()
	d.confirm, d.fail = confirm, fail
	d.mu.Unlock()
}

type fixture struct {
	p        *Pipeline
	engine   *fakeEngine
	notifier *recordingNotifier
	dialer   *fakeDialer
	store    *store.Store
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		engine:   &fakeEngine{},
		notifier: &recordingNotifier{},
		dialer:   &fakeDialer{confirm: true},
		store:    store.New(store.NewMemoryKV()),
		clock:    clockwork.NewFakeClock(),
	}
	f.p = New(context.Background(), f.engine, f.store, f.dialer, f.notifier, Config{Clock: f.clock})
	t.Cleanup(func() { _ = f.p.Disconnect(context.Background()) })
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNormalizeChannel(t *testing.T) {
	tests := map[string]string{
		"SomeChannel":   "somechannel",
		"#SomeChannel":  "somechannel",
		"  #abc ":       "abc",
		"":              "",
		"#":             "",
		"already_lower": "already_lower",
	}
	for in, want := range tests {
		if got := NormalizeChannel(in); got != want {
			t.Errorf("NormalizeChannel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConnectHandshakeAndConfirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.p.Connect(ctx, "#SomeChannel"); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	sent := f.dialer.last().lines()
	if len(sent) != 4 {
		t.Fatalf("handshake = %q", sent)
	}
	if sent[0] != "PASS SCHMOOPIIE" {
		t.Errorf("PASS line = %q", sent[0])
	}
	if !strings.HasPrefix(sent[1], "NICK justinfan") {
		t.Errorf("NICK line = %q", sent[1])
	}
	if sent[2] != "CAP REQ :twitch.tv/tags twitch.tv/commands" {
		t.Errorf("CAP line = %q", sent[2])
	}
	if sent[3] != "JOIN #somechannel" {
		t.Errorf("JOIN line = %q", sent[3])
	}

	st := f.p.Status()
	if !st.Connected || st.State != StateConnected || st.ChannelName != "somechannel" || st.ReconnectAttempts != 0 {
		t.Errorf("Status() = %+v", st)
	}
	if got := f.store.Chat(ctx).ChannelName; got != "somechannel" {
		t.Errorf("persisted channel = %q", got)
	}
}

func TestConnectRejectsEmptyChannel(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Connect(context.Background(), " # "); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("Connect(empty) = %v, want ErrInvalidInput", err)
	}
	if f.dialer.dials() != 0 {
		t.Errorf("dialed for empty channel")
	}
}

func TestConnectTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.dialer.set(false, nil)

	errc := make(chan error, 1)
	go func() { errc <- f.p.Connect(ctx, "quiet") }()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("confirmation timer never armed: %v", err)
	}
	f.clock.Advance(5 * time.Second)

	select {
	case err := <-errc:
		if !errors.Is(err, apperr.ErrConnectionTimeout) {
			t.Fatalf("Connect() = %v, want ErrConnectionTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not time out")
	}

	if st := f.p.Status(); st.State != StateDisconnected {
		t.Errorf("state after timeout = %v", st.State)
	}
	if code := f.dialer.last().closeCode(); code != CloseNormal {
		t.Errorf("abandoned conn closed with %d, want %d", code, CloseNormal)
	}
	f.clock.Advance(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if n := f.dialer.dials(); n != 1 {
		t.Errorf("dials after manual timeout = %d, want 1", n)
	}
}

// slowDialer spends delay of fake time inside Dial.
type slowDialer struct {
	*fakeDialer
	clock *clockwork.FakeClock
	delay time.Duration
}

func (d slowDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.clock.Advance(d.delay)
	return d.fakeDialer.Dial(ctx, url)
}

func TestConnectTimeoutIncludesDialTime(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	dialer := &fakeDialer{}
	p := New(ctx, &fakeEngine{}, store.New(store.NewMemoryKV()), slowDialer{fakeDialer: dialer, clock: clock, delay: 4 * time.Second},
		&recordingNotifier{}, Config{Clock: clock})
	t.Cleanup(func() { _ = p.Disconnect(context.Background()) })

	errc := make(chan error, 1)
	go func() { errc <- p.Connect(ctx, "slow") }()
	waitFor(t, "dial", func() bool { return dialer.dials() == 1 })
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("confirmation timer never armed: %v", err)
	}
	clock.Advance(time.Second)

	select {
	case err := <-errc:
		if !errors.Is(err, apperr.ErrConnectionTimeout) {
			t.Fatalf("Connect() = %v, want ErrConnectionTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("confirmation wait outlasted the connect deadline")
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.p.Connect(ctx, "chan"); err != nil {
		t.Fatal(err)
	}
	conn := f.dialer.last()

	conn.in <- "PING :tmi.twitch.tv\r\n"
	waitFor(t, "PONG", func() bool {
		for _, l := range conn.lines() {
			if l == "PONG :tmi.twitch.tv" {
				return true
			}
		}
		return false
	})
}

func TestDisconnectClosesNormallyAndNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.p.Connect(ctx, "chan"); err != nil {
		t.Fatal(err)
	}
	conn := f.dialer.last()
	if err := f.p.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if code := conn.closeCode(); code != CloseNormal {
		t.Errorf("close code = %d, want %d", code, CloseNormal)
	}
	if st := f.p.Status(); st.Connected || st.State != StateDisconnected {
		t.Errorf("Status() = %+v", st)
	}
	f.notifier.mu.Lock()
	last := f.notifier.statuses[len(f.notifier.statuses)-1]
	f.notifier.mu.Unlock()
	if last.Connected {
		t.Errorf("last notified status = %+v", last)
	}

	f.clock.Advance(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if n := f.dialer.dials(); n != 1 {
		t.Errorf("reconnected after normal closure: %d dials", n)
	}
}

func TestReconnectBound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.p.Connect(ctx, "chan"); err != nil {
		t.Fatal(err)
	}
	f.dialer.set(false, errors.New("network unreachable"))
	f.dialer.last().drop(CloseAbnormal)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for attempt := 1; attempt <= 5; attempt++ {
		if err := f.clock.BlockUntilContext(waitCtx, 1); err != nil {
			t.Fatalf("attempt %d never scheduled: %v", attempt, err)
		}
		f.clock.Advance(5 * time.Second)
		want := 1 + attempt
		waitFor(t, "reconnect dial", func() bool { return f.dialer.dials() == want })
	}

	waitFor(t, "give up", func() bool {
		st := f.p.Status()
		return st.State == StateDisconnected && st.ReconnectAttempts == 5
	})
	f.clock.Advance(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if n := f.dialer.dials(); n != 6 {
		t.Errorf("dials = %d, want 6 (no sixth automatic attempt)", n)
	}
}

func TestReconnectConfirmationResetsAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.p.Connect(ctx, "chan"); err != nil {
		t.Fatal(err)
	}
	f.dialer.last().drop(4000)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(5 * time.Second)
	waitFor(t, "reconnected", func() bool {
		st := f.p.Status()
		return st.Connected && st.ReconnectAttempts == 0 && f.dialer.dials() == 2
	})
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.p.Connect(ctx, "chan"); err != nil {
		t.Fatal(err)
	}
	f.dialer.last().drop(CloseAbnormal)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatal(err)
	}
	_ = f.p.Disconnect(ctx)
	f.clock.Advance(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if n := f.dialer.dials(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestServerReconnectSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.p.Connect(ctx, "chan"); err != nil {
		t.Fatal(err)
	}
	first := f.dialer.last()
	f.p.HandleLine(ctx, ":tmi.twitch.tv RECONNECT")

	if st := f.p.Status(); st.State != StateDisconnected {
		t.Fatalf("state = %v", st.State)
	}
	if first.closeCode() == 0 {
		t.Error("old connection not closed")
	}
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(5 * time.Second)
	waitFor(t, "redial", func() bool { return f.dialer.dials() == 2 && f.p.Status().Connected })
}

func TestUserNoticeConversion(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []addCall
	}{
		{
			name: "mystery gift tier 2 x4",
			line: "@msg-id=submysterygift;msg-param-mass-gift-count=4;msg-param-sub-plan=2000;display-name=Gifter :tmi.twitch.tv USERNOTICE #chan",
			want: []addCall{{720, 12}},
		},
		{
			name: "mystery gift without count",
			line: "@msg-id=submysterygift;msg-param-sub-plan=3000 :tmi.twitch.tv USERNOTICE #chan",
			want: []addCall{{300, 5}},
		},
		{
			name: "sub default plan",
			line: "@msg-id=sub;display-name=Viewer :tmi.twitch.tv USERNOTICE #chan",
			want: []addCall{{60, 1}},
		},
		{
			name: "resub tier 3",
			line: "@msg-id=resub;msg-param-sub-plan=3000 :tmi.twitch.tv USERNOTICE #chan :thanks",
			want: []addCall{{300, 5}},
		},
		{
			name: "prime sub uses tier 1",
			line: "@msg-id=sub;msg-param-sub-plan=Prime :tmi.twitch.tv USERNOTICE #chan",
			want: []addCall{{60, 1}},
		},
		{
			name: "single gift",
			line: "@msg-id=subgift;msg-param-sub-plan=2000;msg-param-recipient-display-name=Lucky :tmi.twitch.tv USERNOTICE #chan",
			want: []addCall{{180, 3}},
		},
		{
			name: "raid is ignored",
			line: "@msg-id=raid;msg-param-viewerCount=50 :tmi.twitch.tv USERNOTICE #chan",
		},
		{
			name: "garbage is ignored",
			line: "@@@",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.p.HandleLine(context.Background(), tt.line)
			got := f.engine.snapshot()
			if len(got) != len(tt.want) {
				t.Fatalf("AddTime calls = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("call %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
			if n := len(f.notifier.notifications()); n != len(tt.want) {
				t.Errorf("notifications = %d, want %d", n, len(tt.want))
			}
		})
	}
}

func TestTierSettingsApplyToConversion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.p.UpdateTierSettings(ctx, 2, 4, 10); err != nil {
		t.Fatal(err)
	}
	f.p.HandleLine(ctx, "@msg-id=submysterygift;msg-param-mass-gift-count=3;msg-param-sub-plan=2000 :tmi.twitch.tv USERNOTICE #chan")
	if got := f.engine.snapshot(); len(got) != 1 || got[0] != (addCall{720, 12}) {
		t.Errorf("calls = %v", got)
	}
}

func mysteryGiftLines() []string {
	return []string{
		"@msg-id=submysterygift;msg-param-mass-gift-count=2;msg-param-sub-plan=1000;msg-param-community-gift-id=42 :tmi.twitch.tv USERNOTICE #chan",
		"@msg-id=subgift;msg-param-sub-plan=1000;msg-param-community-gift-id=42 :tmi.twitch.tv USERNOTICE #chan",
		"@msg-id=subgift;msg-param-sub-plan=1000;msg-param-community-gift-id=42 :tmi.twitch.tv USERNOTICE #chan",
		"@msg-id=subgift;msg-param-sub-plan=1000;msg-param-community-gift-id=99 :tmi.twitch.tv USERNOTICE #chan",
	}
}

func TestEveryGiftNoticeAddsTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, line := range mysteryGiftLines() {
		f.p.HandleLine(ctx, line)
	}

	got := f.engine.snapshot()
	want := []addCall{{120, 2}, {60, 1}, {60, 1}, {60, 1}}
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDedupeGiftsSkipsSubgiftsOfCountedMysteryGift(t *testing.T) {
	ctx := context.Background()
	engine := &fakeEngine{}
	p := New(ctx, engine, store.New(store.NewMemoryKV()), &fakeDialer{confirm: true}, &recordingNotifier{},
		Config{Clock: clockwork.NewFakeClock(), DedupeGifts: true})
	for _, line := range mysteryGiftLines() {
		p.HandleLine(ctx, line)
	}

	got := engine.snapshot()
	want := []addCall{{120, 2}, {60, 1}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestBitsConversion(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []addCall
	}{
		{"250 bits", "@bits=250;display-name=Cheerer :c!c@c.tmi.twitch.tv PRIVMSG #chan :cheer250", []addCall{{1500, 0}}},
		{"below minimum", "@bits=50 :c!c@c.tmi.twitch.tv PRIVMSG #chan :cheer50", nil},
		{"clamped to max", "@bits=5000 :c!c@c.tmi.twitch.tv PRIVMSG #chan :cheer5000", []addCall{{1800, 0}}},
		{"plain chat", "@display-name=Someone :s!s@s.tmi.twitch.tv PRIVMSG #chan :hello", nil},
		{"non numeric bits", "@bits=lots :s!s@s.tmi.twitch.tv PRIVMSG #chan :hello", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.p.HandleLine(context.Background(), tt.line)
			got := f.engine.snapshot()
			if len(got) != len(tt.want) {
				t.Fatalf("calls = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("call %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBitsGrant(t *testing.T) {
	d := store.DonationSettings{Rate: 0.01, MinAmount: 1, MaxTime: 180}
	if g, reason := BitsGrant(d, 50, "x"); g != nil || reason == "" {
		t.Errorf("50 bits at 0.01 = %+v, %q; want ignored", g, reason)
	}
	g, _ := BitsGrant(d, 1000, "x")
	if g == nil || g.Minutes != 10 || g.Seconds != 600 || g.Points != 0 || g.Kind != "bits" {
		t.Errorf("1000 bits = %+v", g)
	}
}

func TestSettingsOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.p.UpdateTierSettings(ctx, 0, 3, 5); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("tier 0 err = %v", err)
	}
	if err := f.p.UpdateTierSettings(ctx, 1, 3, 61); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("tier 61 err = %v", err)
	}
	if err := f.p.UpdateTierSettings(ctx, 5, 10, 15); err != nil {
		t.Fatal(err)
	}
	if got := f.p.TierSettings(ctx); got != (store.TierSettings{Tier1: 5, Tier2: 10, Tier3: 15}) {
		t.Errorf("TierSettings() = %+v", got)
	}
	if err := f.p.ResetTierSettings(ctx); err != nil {
		t.Fatal(err)
	}
	if got := f.p.TierSettings(ctx); got != store.DefaultTierSettings() {
		t.Errorf("after reset = %+v", got)
	}

	bad := store.DonationSettings{Rate: 11, MinAmount: 100, MaxTime: 30}
	if err := f.p.UpdateDonationSettings(ctx, bad); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("rate 11 err = %v", err)
	}
	good := store.DonationSettings{Rate: 0.5, MinAmount: 10, MaxTime: 60}
	if err := f.p.UpdateDonationSettings(ctx, good); err != nil {
		t.Fatal(err)
	}
	if got := f.p.DonationSettings(ctx); got != good {
		t.Errorf("DonationSettings() = %+v", got)
	}
	if err := f.p.ResetDonationSettings(ctx); err != nil {
		t.Fatal(err)
	}
	if got := f.p.DonationSettings(ctx); got != store.DefaultDonationSettings() {
		t.Errorf("after reset = %+v", got)
	}
}

func TestNewLoadsPersistedChannel(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryKV())
	_ = st.SaveChat(ctx, store.ChatSettings{ChannelName: "remembered"})
	p := New(ctx, &fakeEngine{}, st, &fakeDialer{}, nil, Config{})
	if got := p.Status(); got.ChannelName != "remembered" || got.Connected {
		t.Errorf("Status() = %+v", got)
	}
}

func TestCloseCode(t *testing.T) {
	if got := CloseCode(&CloseError{Code: 1000}); got != 1000 {
		t.Errorf("CloseCode(1000) = %d", got)
	}
	if got := CloseCode(errors.New("eof")); got != CloseAbnormal {
		t.Errorf("CloseCode(eof) = %d", got)
	}
}
