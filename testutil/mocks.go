package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// MockChatServer is a minimal Twitch chat endpoint over WebSocket. It confirms every
// JOIN with an end-of-names reply, records the lines it receives and lets the test push
// frames to the connected client.
type MockChatServer struct {
	*httptest.Server

	mu       sync.Mutex
	received []string
	conns    int
	push     chan string
	// ConfirmJoin controls whether JOIN is answered; set before the client connects.
	ConfirmJoin bool
}

// NewMockChatServer starts the server; it is closed on test cleanup.
func NewMockChatServer(t *testing.T) *MockChatServer {
	t.Helper()
	m := &MockChatServer{push: make(chan string, 16), ConfirmJoin: true}
	upgrader := websocket.Upgrader{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		m.mu.Lock()
		m.conns++
		confirm := m.ConfirmJoin
		m.mu.Unlock()

		var wmu sync.Mutex
		write := func(frame string) {
			wmu.Lock()
			defer wmu.Unlock()
			_ = ws.WriteMessage(websocket.TextMessage, []byte(frame))
		}
		done := make(chan struct{})
		defer close(done)
		go func() {
			for {
				select {
				case f := <-m.push:
					write(f)
				case <-done:
					return
				}
			}
		}()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			line := string(data)
			m.mu.Lock()
			m.received = append(m.received, line)
			m.mu.Unlock()
			if confirm && strings.HasPrefix(line, "JOIN ") {
				ch := strings.TrimPrefix(line, "JOIN ")
				write(":justinfan1.tmi.twitch.tv 366 justinfan1 " + ch + " :End of /NAMES list\r\n")
			}
		}
	}))
	t.Cleanup(m.Close)
	return m
}

// URL returns the ws:// address of the server.
func (m *MockChatServer) URL() string {
	return "ws" + strings.TrimPrefix(m.Server.URL, "http")
}

// Push queues a frame for the connected client.
func (m *MockChatServer) Push(frame string) {
	m.push <- frame
}

// Received reports whether line was received.
func (m *MockChatServer) Received(line string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.received {
		if l == line {
			return true
		}
	}
	return false
}

// Connections returns how many clients have connected.
func (m *MockChatServer) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns
}

// MockSyncTarget records the JSON bodies posted to /api/timer.
type MockSyncTarget struct {
	*httptest.Server

	mu     sync.Mutex
	bodies []map[string]any
	// Status is the code answered to each push.
	Status int
}

// NewMockSyncTarget starts the server; it is closed on test cleanup.
func NewMockSyncTarget(t *testing.T) *MockSyncTarget {
	t.Helper()
	m := &MockSyncTarget{Status: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/timer" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // test mock request
		m.mu.Lock()
		m.bodies = append(m.bodies, body)
		status := m.Status
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": status < 300}) //nolint:errcheck // test mock response
	}))
	t.Cleanup(m.Close)
	return m
}

// Bodies returns the decoded pushes so far.
func (m *MockSyncTarget) Bodies() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.bodies...)
}
