// Package hub is the process-wide registry and lifecycle coordinator:
// it owns every connected Client and every Channel, bootstraps the
// "global" channel, and exposes the broadcast/join/leave facade plus the
// connect/message/close handlers a transport layer calls into.
package hub

import (
	"errors"
	"fmt"
	"sync"

	"relayhub/internal/channel"
	"relayhub/internal/client"
	"relayhub/internal/envelope"
	"relayhub/internal/logging"
)

const (
	globalChannelID    = "global"
	globalChannelName  = "Global"
	globalChannelLimit = 1000
)

// ErrTransportNotSet is returned by Broadcast/BroadcastAll before
// SetTransportServer has been called.
var ErrTransportNotSet = errors.New("hub: transport server not set")

// ErrClientNotFound is returned by GetClient when throwIfMissing is true.
var ErrClientNotFound = errors.New("hub: client not found")

// Broadcaster is the shared pub/sub server the Hub publishes through.
type Broadcaster interface {
	PublishTopic(topic string, data []byte) error
}

// ClientFactory constructs a Client variant; the default is client.New.
type ClientFactory func(identity client.Identity, transport client.Transport, logger logging.Logger) *client.Client

// ChannelFactory constructs a Channel variant; the default is channel.New.
type ChannelFactory func(id, name string, limit int, broker channel.Broadcaster, logger logging.Logger) *channel.Channel

// Hooks are user-supplied callbacks composed with the default lifecycle
// handlers. Message, if set, replaces the default non-heartbeat message
// handling entirely; its handled result is not consulted. Open runs
// after default open work; Close runs
// before default close cleanup.
type Hooks struct {
	Open    func(c *client.Client)
	Message func(c *client.Client, raw string) (handled bool)
	Close   func(c *client.Client, code int, reason string)
}

// Options configure a Hub at construction time.
type Options struct {
	Hooks          Hooks
	ClientFactory  ClientFactory
	ChannelFactory ChannelFactory
	ChannelsSeed   map[string]*channel.Channel
	Debug          bool
}

// Hub is the registry of all clients and channels.
type Hub struct {
	logger         logging.Logger
	hooks          Hooks
	clientFactory  ClientFactory
	channelFactory ChannelFactory
	debug          bool

	mu       sync.RWMutex
	clients  map[string]*client.Client
	channels map[string]*channel.Channel
	server   Broadcaster
}

// New constructs a Hub and bootstraps the "global" channel (limit 1000)
// unless the supplied ChannelsSeed already contains one.
func New(logger logging.Logger, opts Options) *Hub {
	h := &Hub{
		logger:         logger,
		hooks:          opts.Hooks,
		clientFactory:  opts.ClientFactory,
		channelFactory: opts.ChannelFactory,
		debug:          opts.Debug,
		clients:        make(map[string]*client.Client),
		channels:       make(map[string]*channel.Channel),
	}
	if h.clientFactory == nil {
		h.clientFactory = client.New
	}
	if h.channelFactory == nil {
		h.channelFactory = channel.New
	}

	if opts.ChannelsSeed != nil {
		h.channels = opts.ChannelsSeed
	}
	if _, ok := h.channels[globalChannelID]; !ok {
		h.channels[globalChannelID] = h.channelFactory(globalChannelID, globalChannelName, globalChannelLimit, nil, logger)
	}

	return h
}

// SetTransportServer late-binds the shared pub/sub server. Every
// existing and future channel broadcasts through it.
func (h *Hub) SetTransportServer(srv Broadcaster) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.server = srv
	for _, ch := range h.channels {
		ch.SetBroker(srv)
	}
}

// CreateChannel returns the existing channel for id if present, else
// constructs one via the configured ChannelFactory.
func (h *Hub) CreateChannel(id, name string, limit int) *channel.Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.channels[id]; ok {
		return existing
	}
	ch := h.channelFactory(id, name, limit, h.server, h.logger)
	h.channels[id] = ch
	return ch
}

// RemoveChannel evacuates and deletes a channel.
func (h *Hub) RemoveChannel(id string) {
	h.mu.Lock()
	ch, ok := h.channels[id]
	if ok {
		delete(h.channels, id)
	}
	h.mu.Unlock()
	if ok {
		ch.Delete()
	}
}

// GetChannel looks up a channel by id.
func (h *Hub) GetChannel(id string) (*channel.Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.channels[id]
	return ch, ok
}

// GetChannels returns every registered channel.
func (h *Hub) GetChannels() []*channel.Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*channel.Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		out = append(out, ch)
	}
	return out
}

// GetChannelCount returns the number of registered channels.
func (h *Hub) GetChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// GetClient looks up a client by id. If throwIfMissing is true, a
// missing client returns ErrClientNotFound; otherwise a missing client
// returns a nil client and a nil error.
func (h *Hub) GetClient(id string, throwIfMissing bool) (*client.Client, error) {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok && throwIfMissing {
		return nil, ErrClientNotFound
	}
	return c, nil
}

// GetClients returns every currently-connected client.
func (h *Hub) GetClients() []*client.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client.Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// GetClientCount returns the number of registered clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats is a point-in-time snapshot of hub occupancy.
type Stats struct {
	ClientCount  int
	ChannelCount int
	ChannelSizes map[string]int
}

// GetStats summarizes current hub occupancy.
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sizes := make(map[string]int, len(h.channels))
	for id, ch := range h.channels {
		sizes[id] = ch.GetSize()
	}
	return Stats{
		ClientCount:  len(h.clients),
		ChannelCount: len(h.channels),
		ChannelSizes: sizes,
	}
}

// Broadcast serializes payload and publishes it to channelID's topic
// directly, matching Channel.Broadcast's wire shape (no double
// wrapping).
func (h *Hub) Broadcast(channelID string, payload envelope.Payload) error {
	h.mu.RLock()
	server := h.server
	h.mu.RUnlock()
	if server == nil {
		return ErrTransportNotSet
	}

	env := envelope.Build(payload, envelope.Options{Channel: channelID})
	data, err := envelope.Serialize(env, nil)
	if err != nil {
		return fmt.Errorf("serialize broadcast: %w", err)
	}
	if err := server.PublishTopic(channelID, data); err != nil {
		h.logger.WithError(err).WithField("channel", channelID).Error("hub broadcast publish failed")
	}
	return nil
}

// BroadcastAll invokes Broadcast on every registered channel.
func (h *Hub) BroadcastAll(payload envelope.Payload) error {
	for _, ch := range h.GetChannels() {
		if err := h.Broadcast(ch.ChannelID(), payload); err != nil {
			return err
		}
	}
	return nil
}

// Join resolves entity to a tracked client and delegates to the channel.
func (h *Hub) Join(channelID string, entity *client.Client, notify bool) (client.JoinResult, error) {
	ch, ok := h.GetChannel(channelID)
	if !ok {
		return client.JoinResult{}, fmt.Errorf("hub: channel %q not found", channelID)
	}
	c, err := h.GetClient(entity.ID(), true)
	if err != nil {
		return client.JoinResult{}, err
	}
	return c.JoinChannel(ch, notify), nil
}

// Leave resolves entity to a tracked client and delegates to the channel.
func (h *Hub) Leave(channelID string, entity *client.Client, notify bool) error {
	ch, ok := h.GetChannel(channelID)
	if !ok {
		return fmt.Errorf("hub: channel %q not found", channelID)
	}
	c, err := h.GetClient(entity.ID(), true)
	if err != nil {
		return err
	}
	c.LeaveChannel(ch, notify)
	return nil
}

// OnOpen registers a newly-connected client, sends the welcome envelope,
// adds it to "global", and runs the open hook if present.
func (h *Hub) OnOpen(identity client.Identity, transport client.Transport) (*client.Client, error) {
	if h.debug {
		h.logger.WithField("client_id", identity.ID).Debug("client connecting")
	}

	global, ok := h.GetChannel(globalChannelID)
	if !ok {
		// Missing global channel is a programmer error, not a runtime
		// condition callers should recover from.
		h.logger.Fatal("hub: global channel missing at OnOpen")
	}

	c := h.clientFactory(identity, transport, h.logger)
	c.MarkConnected()

	h.mu.Lock()
	h.clients[identity.ID] = c
	h.mu.Unlock()

	c.Send(envelope.Payload{
		Type: "client.connected",
		Content: map[string]interface{}{
			"message": "Welcome to the server",
			"client":  map[string]string{"id": identity.ID, "name": identity.Name},
		},
	}, envelope.Options{})

	global.AddMember(c, false)

	if h.hooks.Open != nil {
		h.hooks.Open(c)
	}

	h.logger.WithFields(logging.Fields{
		"client_id":    identity.ID,
		"client_count": h.GetClientCount(),
	}).Info("client connected")

	return c, nil
}

// OnMessage handles one inbound frame: the bare "ping" heartbeat, then
// a user hook if set, else the default echo + broadcast-all behavior.
func (h *Hub) OnMessage(c *client.Client, raw string) {
	if raw == "ping" {
		// The pong reply is a bare protocol frame, not an attributed
		// message: it must be exactly {"type":"pong","content":
		// {"message":"pong"}}, with no channel default and no sender
		// attribution, so it bypasses Send for SendBare.
		c.SendBare(envelope.Payload{Type: "pong", Content: map[string]interface{}{"message": "pong"}})
		return
	}

	if h.hooks.Message != nil {
		h.hooks.Message(c, raw)
		return
	}

	h.logger.WithField("client_id", c.ID()).Debug("default message handler: echo + broadcast-all")
	_ = h.BroadcastAll(envelope.Payload{
		Type:    "client.message.received",
		Content: map[string]interface{}{"message": raw},
	})
}

// OnClose runs the close hook first, then (if c is registered)
// evacuates c from every channel it joined, marks it disconnected, and
// removes it from the registry.
func (h *Hub) OnClose(c *client.Client, code int, reason string) {
	if h.debug {
		h.logger.WithField("client_id", c.ID()).Debug("client closing")
	}

	if h.hooks.Close != nil {
		h.hooks.Close(c, code, reason)
	}

	h.mu.RLock()
	_, tracked := h.clients[c.ID()]
	h.mu.RUnlock()
	if !tracked {
		return
	}

	c.MarkDisconnecting()
	for _, ch := range c.TrackedChannels() {
		ch.RemoveMember(c, false)
	}
	c.MarkDisconnected()

	h.mu.Lock()
	delete(h.clients, c.ID())
	h.mu.Unlock()

	h.logger.WithFields(logging.Fields{
		"client_id":    c.ID(),
		"client_count": h.GetClientCount(),
	}).Info("client disconnected")
}

// Shutdown marks every client disconnected and evacuates every channel,
// for use during process shutdown.
func (h *Hub) Shutdown() {
	for _, c := range h.GetClients() {
		h.OnClose(c, 1001, "server shutting down")
	}
}
