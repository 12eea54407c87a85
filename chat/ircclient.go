package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// IRCDialer connects with the go-twitch-irc anonymous client. The client performs its
// own login, capability negotiation and keep-alives, so the adapter only forwards the
// lines the pipeline acts on and turns the client's self-join into the end-of-names
// confirmation.
type IRCDialer struct {
	Address string // host:port, empty uses the library default
}

func (d IRCDialer) Dial(_ context.Context, _ string) (Conn, error) {
	client := twitch.NewAnonymousClient()
	if d.Address != "" {
		client.IrcAddress = d.Address
	}
	c := &ircConn{
		client:    client,
		lines:     make(chan string, 64),
		done:      make(chan struct{}),
		closeCode: CloseAbnormal,
	}
	client.OnPrivateMessage(func(m twitch.PrivateMessage) { c.push(m.Raw) })
	client.OnUserNoticeMessage(func(m twitch.UserNoticeMessage) { c.push(m.Raw) })
	client.OnSelfJoinMessage(func(m twitch.UserJoinMessage) {
		c.push(fmt.Sprintf(":tmi.twitch.tv 366 %s #%s :End of /NAMES list", m.User, m.Channel))
	})
	client.OnReconnectMessage(func(twitch.ReconnectMessage) { c.push(":tmi.twitch.tv RECONNECT") })

	go func() {
		c.finish(client.Connect())
	}()
	return c, nil
}

type ircConn struct {
	client *twitch.Client
	lines  chan string
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	closeCode int
	err       error
}

func (c *ircConn) push(line string) {
	select {
	case c.lines <- line:
	case <-c.done:
	}
}

func (c *ircConn) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		code := c.closeCode
		if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
			code = CloseAbnormal
		}
		text := "client disconnected"
		if err != nil {
			text = err.Error()
		}
		c.err = &CloseError{Code: code, Text: text}
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *ircConn) ReadMessage() (string, error) {
	select {
	case line := <-c.lines:
		return line, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return "", c.err
	}
}

// Send maps JOIN onto the client; login, CAP and PONG are handled by the client.
func (c *ircConn) Send(line string) error {
	select {
	case <-c.done:
		return errors.New("irc client closed")
	default:
	}
	if rest, ok := strings.CutPrefix(line, "JOIN "); ok {
		c.client.Join(strings.TrimPrefix(strings.TrimSpace(rest), "#"))
	}
	return nil
}

func (c *ircConn) Close(code int, _ string) error {
	c.mu.Lock()
	c.closeCode = code
	c.mu.Unlock()
	// Disconnect fails when the client never finished connecting; the conn is closed
	// either way.
	_ = c.client.Disconnect()
	c.finish(twitch.ErrClientDisconnected)
	return nil
}
