package transport

import (
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setupRedisBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	broker := NewRedisBroker(client, testLogger())
	t.Cleanup(func() { _ = broker.Close() })
	return broker, mr
}

func TestRedisBrokerDeliversPublishedMessage(t *testing.T) {
	broker, _ := setupRedisBroker(t)

	received := make(chan []byte, 1)
	if _, err := broker.Subscribe("room", func(data []byte) { received <- data }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// miniredis subscriptions are asynchronous; give the subscription
	// goroutine a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	if err := broker.PublishTopic("room", []byte(`"hello"`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != `"hello"` {
			t.Fatalf("unexpected payload: %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
}

func TestRedisBrokerMultipleLocalHandlersShareOneSubscription(t *testing.T) {
	broker, _ := setupRedisBroker(t)

	var calls1, calls2 int
	recv1 := make(chan struct{}, 1)
	recv2 := make(chan struct{}, 1)
	broker.Subscribe("room", func(data []byte) { calls1++; recv1 <- struct{}{} })
	broker.Subscribe("room", func(data []byte) { calls2++; recv2 <- struct{}{} })

	time.Sleep(50 * time.Millisecond)
	_ = broker.PublishTopic("room", []byte(`"x"`))

	<-recv1
	<-recv2
	if calls1 != 1 || calls2 != 1 {
		t.Fatalf("expected both handlers invoked once, got %d and %d", calls1, calls2)
	}
}
