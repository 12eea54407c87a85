package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultURL is the Twitch chat WebSocket endpoint.
const DefaultURL = "wss://irc-ws.chat.twitch.tv:443"

const writeWait = 10 * time.Second

// WSDialer connects over a WebSocket carrying IRC lines.
type WSDialer struct {
	Dialer *websocket.Dialer // nil uses websocket.DefaultDialer
}

func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex // serialises writers
}

func (c *wsConn) ReadMessage() (string, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return "", &CloseError{Code: ce.Code, Text: ce.Text}
		}
		return "", &CloseError{Code: CloseAbnormal, Text: err.Error()}
	}
	return string(data), nil
}

func (c *wsConn) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}
