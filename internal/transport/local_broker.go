package transport

import "sync"

// LocalBroker fans messages out in-process, with no external dependency.
// It is the default Broker for a single-instance deployment.
type LocalBroker struct {
	mu   sync.RWMutex
	subs map[string]map[int]func([]byte)
	next int
}

// NewLocalBroker constructs an empty in-process broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[int]func([]byte))}
}

// PublishTopic invokes every handler currently subscribed to topic.
func (b *LocalBroker) PublishTopic(topic string, data []byte) error {
	b.mu.RLock()
	handlers := make([]func([]byte), 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

// Subscribe registers handler for topic and returns a func to remove it.
func (b *LocalBroker) Subscribe(topic string, handler func(data []byte)) (func(), error) {
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func([]byte))
	}
	id := b.next
	b.next++
	b.subs[topic][id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}, nil
}

// Close is a no-op for LocalBroker; it owns no external resources.
func (b *LocalBroker) Close() error { return nil }
