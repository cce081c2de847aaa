package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"relayhub/internal/logging"
)

func startEchoServer(t *testing.T, broker Broker) (*httptest.Server, chan *WSConn) {
	t.Helper()
	conns := make(chan *WSConn, 1)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		wsConn := NewWSConn(conn, broker, logging.NewLogger())
		conns <- wsConn
		go wsConn.WritePump()
		go wsConn.ReadPump(func(raw string) {}, func(code int, reason string) {})
	})

	server := httptest.NewServer(handler)
	return server, conns
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestWSConnSendDeliversToClient(t *testing.T) {
	broker := NewLocalBroker()
	server, conns := startEchoServer(t, broker)
	defer server.Close()

	client := dial(t, server)
	defer client.Close()

	wsConn := <-conns
	if err := wsConn.Send([]byte(`{"type":"hello"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"type":"hello"}` {
		t.Fatalf("unexpected payload: %s", data)
	}
}

func TestWSConnSubscribeDeliversBrokerMessages(t *testing.T) {
	broker := NewLocalBroker()
	server, conns := startEchoServer(t, broker)
	defer server.Close()

	client := dial(t, server)
	defer client.Close()

	wsConn := <-conns
	if err := wsConn.Subscribe("room"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := broker.PublishTopic("room", []byte("from-broker")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "from-broker" {
		t.Fatalf("unexpected payload: %s", data)
	}
}

func TestWSConnCloseRejectsFurtherSends(t *testing.T) {
	broker := NewLocalBroker()
	server, conns := startEchoServer(t, broker)
	defer server.Close()

	client := dial(t, server)
	defer client.Close()

	wsConn := <-conns
	if err := wsConn.Close(websocket.CloseNormalClosure, "done"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := wsConn.Send([]byte("x")); err == nil {
		t.Fatalf("expected send after close to error")
	}
}
