package transport

import "testing"

func TestLocalBrokerDeliversToSubscribers(t *testing.T) {
	b := NewLocalBroker()
	var gotA, gotB []byte

	_, err := b.Subscribe("room", func(data []byte) { gotA = data })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_, err = b.Subscribe("room", func(data []byte) { gotB = data })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.PublishTopic("room", []byte("hi")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if string(gotA) != "hi" || string(gotB) != "hi" {
		t.Fatalf("expected both subscribers to receive the message")
	}
}

func TestLocalBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewLocalBroker()
	calls := 0
	unsubscribe, _ := b.Subscribe("room", func(data []byte) { calls++ })

	_ = b.PublishTopic("room", []byte("one"))
	unsubscribe()
	_ = b.PublishTopic("room", []byte("two"))

	if calls != 1 {
		t.Fatalf("expected exactly one delivery before unsubscribe, got %d", calls)
	}
}

func TestLocalBrokerPublishWithNoSubscribersIsNoop(t *testing.T) {
	b := NewLocalBroker()
	if err := b.PublishTopic("empty", []byte("x")); err != nil {
		t.Fatalf("unexpected error publishing to empty topic: %v", err)
	}
}
