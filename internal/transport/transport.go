// Package transport provides the Transport implementations the client
// package depends on: a gorilla/websocket connection adapter, and a
// pub/sub Broker that can be backed by an in-process fanout or Redis.
package transport

import "errors"

// ErrClosed is returned once a connection's send channel has been closed.
var ErrClosed = errors.New("transport: connection closed")

// Broker is the channel-level fan-out collaborator: both LocalBroker
// and RedisBroker satisfy channel.Broadcaster and hub.Broadcaster,
// which both only require PublishTopic.
type Broker interface {
	PublishTopic(topic string, data []byte) error
	Subscribe(topic string, handler func(data []byte)) (unsubscribe func(), err error)
	Close() error
}
