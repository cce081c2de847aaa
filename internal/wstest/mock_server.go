// Package wstest provides an in-process WebSocket test harness for
// integration tests against a real *hub.Hub over a real socket.
package wstest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"relayhub/internal/client"
	"relayhub/internal/hub"
	"relayhub/internal/logging"
	"relayhub/internal/transport"
)

// ErrReadTimeout is returned by TestClient.ReadTimeout when no frame
// arrives within the given duration.
var ErrReadTimeout = errors.New("wstest: timed out waiting for a frame")

// MockHubServer runs a real Hub behind an httptest.Server, upgrading
// every request to a WebSocket connection under a caller-supplied
// identity.
type MockHubServer struct {
	Hub    *hub.Hub
	Broker *transport.LocalBroker
	server *httptest.Server

	// IdentityFor resolves the identity for an incoming request; tests
	// usually key it off a query parameter. NewMockHubServer installs a
	// default that uses the "id" query parameter as both ID and Name,
	// falling back to "test-client" when the parameter is absent.
	IdentityFor func(r *http.Request) client.Identity
}

// NewMockHubServer constructs a Hub wired to a LocalBroker and starts
// serving it over HTTP.
func NewMockHubServer(logger logging.Logger) *MockHubServer {
	broker := transport.NewLocalBroker()
	h := hub.New(logger, hub.Options{})
	h.SetTransportServer(broker)

	m := &MockHubServer{Hub: h, Broker: broker}
	m.IdentityFor = func(r *http.Request) client.Identity {
		id := r.URL.Query().Get("id")
		if id == "" {
			id = "test-client"
		}
		return client.Identity{ID: id, Name: id}
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		wsConn := transport.NewWSConn(conn, broker, logger)
		c, _ := h.OnOpen(m.IdentityFor(r), wsConn)

		go wsConn.WritePump()
		go wsConn.ReadPump(
			func(raw string) { h.OnMessage(c, raw) },
			func(code int, reason string) { h.OnClose(c, code, reason) },
		)
	})

	m.server = httptest.NewServer(handler)
	return m
}

// URL returns the ws:// URL of the running server.
func (m *MockHubServer) URL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

// Close shuts down the server and evacuates the hub.
func (m *MockHubServer) Close() {
	m.Hub.Shutdown()
	m.server.Close()
}

// TestClient is a minimal WebSocket client for driving MockHubServer in
// tests: connect, send raw text, read raw text.
type TestClient struct {
	conn     *websocket.Conn
	messages chan []byte
	errors   chan error
}

// Dial connects to url (as returned by MockHubServer.URL).
func Dial(url string) (*TestClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	c := &TestClient{conn: conn, messages: make(chan []byte, 16), errors: make(chan error, 1)}
	go c.readLoop()
	return c, nil
}

func (c *TestClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.errors <- err:
			default:
			}
			return
		}
		select {
		case c.messages <- data:
		default:
		}
	}
}

// Send writes a raw text frame.
func (c *TestClient) Send(data string) error {
	return c.conn.WriteMessage(websocket.TextMessage, []byte(data))
}

// ReadTimeout waits up to timeout for the next inbound frame.
func (c *TestClient) ReadTimeout(timeout time.Duration) ([]byte, error) {
	select {
	case data := <-c.messages:
		return data, nil
	case err := <-c.errors:
		return nil, err
	case <-time.After(timeout):
		return nil, ErrReadTimeout
	}
}

// Close closes the underlying connection.
func (c *TestClient) Close() error {
	return c.conn.Close()
}
