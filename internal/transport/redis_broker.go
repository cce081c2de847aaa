package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"relayhub/internal/logging"
)

// typedPubSub is a thin generic wrapper over a redis.UniversalClient,
// adapted from the pattern used for tenant-scoped event fanout: publish
// marshals T, subscribe unmarshals each message back into T before
// invoking the handler.
type typedPubSub[T any] struct {
	client goredis.UniversalClient
}

func (p *typedPubSub[T]) publish(ctx context.Context, channel string, msg T) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal pubsub payload: %w", err)
	}
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

func (p *typedPubSub[T]) subscribe(ctx context.Context, channel string, handler func(T)) error {
	sub := p.client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to redis: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var payload T
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				continue
			}
			handler(payload)
		}
	}
}

// RedisBroker fans messages out across every process subscribed to the
// same Redis instance, for multi-instance deployments. Each topic gets
// its own background subscription goroutine, started lazily on first
// local Subscribe call.
type RedisBroker struct {
	client goredis.UniversalClient
	pubsub *typedPubSub[json.RawMessage]
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[string]map[int]func([]byte)
	started  map[string]bool
	next     int
}

// NewRedisBroker constructs a Broker backed by client.
func NewRedisBroker(client goredis.UniversalClient, logger logging.Logger) *RedisBroker {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBroker{
		client:   client,
		pubsub:   &typedPubSub[json.RawMessage]{client: client},
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]map[int]func([]byte)),
		started:  make(map[string]bool),
	}
}

// PublishTopic publishes data on the Redis channel named topic.
func (b *RedisBroker) PublishTopic(topic string, data []byte) error {
	return b.pubsub.publish(b.ctx, topic, json.RawMessage(data))
}

// Subscribe registers a local handler for topic, starting a Redis
// subscription goroutine the first time topic is subscribed to from
// this process.
func (b *RedisBroker) Subscribe(topic string, handler func(data []byte)) (func(), error) {
	b.mu.Lock()
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]func([]byte))
	}
	id := b.next
	b.next++
	b.handlers[topic][id] = handler
	alreadyStarted := b.started[topic]
	b.started[topic] = true
	b.mu.Unlock()

	if !alreadyStarted {
		go b.runSubscription(topic)
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[topic], id)
	}, nil
}

func (b *RedisBroker) runSubscription(topic string) {
	err := b.pubsub.subscribe(b.ctx, topic, func(payload json.RawMessage) {
		b.mu.Lock()
		handlers := make([]func([]byte), 0, len(b.handlers[topic]))
		for _, h := range b.handlers[topic] {
			handlers = append(handlers, h)
		}
		b.mu.Unlock()
		for _, h := range handlers {
			h([]byte(payload))
		}
	})
	if err != nil && b.ctx.Err() == nil {
		b.logger.WithError(err).WithField("topic", topic).Error("redis subscription ended unexpectedly")
	}
}

// Close cancels every background subscription goroutine.
func (b *RedisBroker) Close() error {
	b.cancel()
	return nil
}

// Ping reports whether the underlying Redis connection is reachable,
// satisfying health.Pinger.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
