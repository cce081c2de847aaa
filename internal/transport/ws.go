package transport

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"relayhub/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256
)

// Upgrader is the shared gorilla/websocket upgrader. CheckOrigin is left
// permissive here; a reverse proxy or middleware layer is expected to
// enforce origin policy before a request reaches this handler.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSConn adapts a gorilla/websocket connection, plus a shared Broker, to
// the client.Transport interface.
type WSConn struct {
	conn   *websocket.Conn
	broker Broker
	logger logging.Logger

	mu     sync.Mutex
	closed bool
	send   chan []byte
	subs   map[string]func()
}

// NewWSConn wraps conn for use as a client.Transport, publishing and
// subscribing through broker.
func NewWSConn(conn *websocket.Conn, broker Broker, logger logging.Logger) *WSConn {
	return &WSConn{
		conn:   conn,
		broker: broker,
		logger: logger,
		send:   make(chan []byte, sendBufferSize),
		subs:   make(map[string]func()),
	}
}

// Send queues data for delivery on the write pump. It returns an error
// (containing "closed") if the connection has already been closed or
// its send buffer is full.
func (w *WSConn) Send(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.send <- data:
		return nil
	default:
		return fmt.Errorf("transport: send buffer full, connection closed")
	}
}

// Subscribe joins topic's broker fan-out, delivering each published
// message to this connection's Send.
func (w *WSConn) Subscribe(topic string) error {
	unsubscribe, err := w.broker.Subscribe(topic, func(data []byte) {
		_ = w.Send(data)
	})
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.subs[topic] = unsubscribe
	w.mu.Unlock()
	return nil
}

// Unsubscribe leaves topic's broker fan-out.
func (w *WSConn) Unsubscribe(topic string) error {
	w.mu.Lock()
	unsubscribe, ok := w.subs[topic]
	delete(w.subs, topic)
	w.mu.Unlock()
	if ok {
		unsubscribe()
	}
	return nil
}

// PublishTopic publishes data to topic via the shared broker.
func (w *WSConn) PublishTopic(topic string, data []byte) error {
	return w.broker.PublishTopic(topic, data)
}

// Close marks the connection closed and stops its write pump. The
// underlying socket is closed by the read/write pump goroutines as they
// unwind.
func (w *WSConn) Close(code int, reason string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.send)
	for _, unsubscribe := range w.subs {
		unsubscribe()
	}
	w.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	return nil
}

// ReadPump reads frames until the connection errors or closes, handing
// each text frame to onMessage. It blocks, so callers run it in its own
// goroutine; when a read fails it calls onClose with the close code and
// reason, then closes the socket and returns.
func (w *WSConn) ReadPump(onMessage func(raw string), onClose func(code int, reason string)) {
	defer func() {
		w.conn.Close()
	}()

	w.conn.SetReadLimit(maxMessageSize)
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := w.conn.ReadMessage()
		if err != nil {
			code := websocket.CloseNormalClosure
			reason := err.Error()
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
				reason = ce.Text
			}
			onClose(code, reason)
			return
		}
		onMessage(string(message))
	}
}

// WritePump drains the send buffer to the socket and sends periodic
// pings, until Close is called or a write fails.
func (w *WSConn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		w.conn.Close()
	}()

	for {
		select {
		case data, ok := <-w.send:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = w.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if w.logger != nil {
					w.logger.WithError(err).Debug("websocket write failed")
				}
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
