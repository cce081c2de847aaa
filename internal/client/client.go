// Package client implements the per-connection adapter: identity,
// channel membership bookkeeping, and send-gating by connection state.
package client

import (
	"strings"
	"sync"
	"time"

	"relayhub/internal/envelope"
	"relayhub/internal/logging"
)

// Transport is the external per-connection collaborator the core
// depends on. The core never constructs one directly; it is supplied at
// connect time by whatever owns the socket.
type Transport interface {
	Send(data []byte) error
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	PublishTopic(topic string, data []byte) error
	Close(code int, reason string) error
}

// State is the client's connection lifecycle state. Transitions are
// monotonic: CONNECTING -> CONNECTED -> DISCONNECTING -> DISCONNECTED.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// JoinResult is the outcome of a join delegated to a channel, expressed
// without the client package depending on the channel package.
type JoinResult struct {
	OK     bool
	Reason string
	Err    error
}

// ChannelOps is the capability set a Client needs from a channel during
// join/leave coordination. It lets client and channel reference each
// other without an import cycle: channel.Channel implements this
// interface over *Client directly.
type ChannelOps interface {
	ChannelID() string
	AddMember(c *Client, notify bool) JoinResult
	RemoveMember(c *Client, notify bool) bool
}

// Identity is a client's immutable attribution, included in outgoing
// envelopes.
type Identity = envelope.Identity

// ConnectionInfo is a point-in-time snapshot of a client's connection.
type ConnectionInfo struct {
	ID            string
	Name          string
	State         string
	ConnectedAt   time.Time
	UptimeSeconds float64
	ChannelCount  int
}

// Client owns one live Transport connection.
type Client struct {
	identity  Identity
	transport Transport
	logger    logging.Logger

	mu             sync.RWMutex
	channels       map[string]ChannelOps
	state          State
	connectedAt    time.Time
	disconnectedAt time.Time
}

// New constructs a client in the CONNECTING state.
func New(identity Identity, transport Transport, logger logging.Logger) *Client {
	return &Client{
		identity:  identity,
		transport: transport,
		logger:    logger,
		channels:  make(map[string]ChannelOps),
		state:     StateConnecting,
	}
}

// ID returns the client's identifier.
func (c *Client) ID() string { return c.identity.ID }

// Whoami returns the client's identity.
func (c *Client) Whoami() Identity { return c.identity }

// CanReceive reports whether the client is in a state that admits sends.
func (c *Client) CanReceive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateConnected || c.state == StateDisconnecting
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// MarkConnected transitions CONNECTING -> CONNECTED, recording connectedAt.
func (c *Client) MarkConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return
	}
	c.state = StateConnected
	c.connectedAt = time.Now()
}

// MarkDisconnecting transitions to DISCONNECTING (a no-op past that point).
func (c *Client) MarkDisconnecting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnecting || c.state == StateDisconnected {
		return
	}
	c.state = StateDisconnecting
}

// MarkDisconnected transitions to the terminal DISCONNECTED state.
func (c *Client) MarkDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return
	}
	c.state = StateDisconnected
	c.disconnectedAt = time.Now()
}

// Send builds an envelope (attributing this client as sender) and writes
// it to the Transport, gated by CanReceive. Transport errors indicating
// closure force a disconnect; other errors are logged and swallowed.
func (c *Client) Send(payload envelope.Payload, opts envelope.Options) {
	if !c.CanReceive() {
		c.logger.WithFields(logging.Fields{
			"client_id": c.identity.ID,
			"state":     c.State().String(),
		}).Warn("dropping send: client not in a receivable state")
		return
	}

	identity := c.identity
	opts.Client = &identity

	env := envelope.Build(payload, opts)
	data, err := envelope.Serialize(env, nil)
	if err != nil {
		c.logger.WithError(err).Error("failed to serialize outbound envelope")
		return
	}

	if err := c.transport.Send(data); err != nil {
		if strings.Contains(err.Error(), "closed") {
			c.MarkDisconnected()
			return
		}
		c.logger.WithError(err).WithField("client_id", c.identity.ID).Warn("transport send failed")
	}
}

// SendBare writes a protocol-level frame built via envelope.BuildBare,
// gated by CanReceive like Send, but bypassing Send's sender attribution
// and channel defaulting — used for frames like the "pong" heartbeat
// reply that must carry only the fields the caller specifies.
func (c *Client) SendBare(payload envelope.Payload) {
	if !c.CanReceive() {
		c.logger.WithFields(logging.Fields{
			"client_id": c.identity.ID,
			"state":     c.State().String(),
		}).Warn("dropping send: client not in a receivable state")
		return
	}

	env := envelope.BuildBare(payload)
	data, err := envelope.Serialize(env, nil)
	if err != nil {
		c.logger.WithError(err).Error("failed to serialize outbound envelope")
		return
	}

	if err := c.transport.Send(data); err != nil {
		if strings.Contains(err.Error(), "closed") {
			c.MarkDisconnected()
			return
		}
		c.logger.WithError(err).WithField("client_id", c.identity.ID).Warn("transport send failed")
	}
}

// WriteRaw writes pre-serialized bytes directly to the Transport,
// gated by CanReceive like Send, but without building a new envelope —
// used by a channel's per-recipient broadcast path, where the same
// serialized bytes are shared across every recipient.
func (c *Client) WriteRaw(data []byte) error {
	if !c.CanReceive() {
		return nil
	}
	if err := c.transport.Send(data); err != nil {
		if strings.Contains(err.Error(), "closed") {
			c.MarkDisconnected()
		}
		return err
	}
	return nil
}

// JoinChannel is a thin delegate: already-tracked channels are rejected
// as already_member, otherwise the channel performs the coordinated
// join and this method translates the result.
func (c *Client) JoinChannel(ch ChannelOps, notify bool) JoinResult {
	c.mu.RLock()
	_, already := c.channels[ch.ChannelID()]
	c.mu.RUnlock()
	if already {
		return JoinResult{OK: false, Reason: "already_member"}
	}
	return ch.AddMember(c, notify)
}

// LeaveChannel is a no-op if the channel isn't tracked, else delegates
// to the channel's coordinated removal.
func (c *Client) LeaveChannel(ch ChannelOps, notify bool) {
	c.mu.RLock()
	_, tracked := c.channels[ch.ChannelID()]
	c.mu.RUnlock()
	if !tracked {
		return
	}
	ch.RemoveMember(c, notify)
}

// JoinChannels joins each channel without individual notification, then
// sends one aggregate notification if notify is true.
func (c *Client) JoinChannels(channels []ChannelOps, notify bool) []JoinResult {
	results := make([]JoinResult, 0, len(channels))
	joined := make([]string, 0, len(channels))
	for _, ch := range channels {
		res := c.JoinChannel(ch, false)
		results = append(results, res)
		if res.OK {
			joined = append(joined, ch.ChannelID())
		}
	}
	if notify && len(joined) > 0 {
		c.Send(envelope.Payload{Type: "client.join.channels", Content: map[string]interface{}{
			"channels": joined,
		}}, envelope.Options{})
	}
	return results
}

// LeaveChannels leaves each given channel (or every tracked channel if
// channels is nil) without individual notification, then sends one
// aggregate notification if notify is true.
func (c *Client) LeaveChannels(channels []ChannelOps, notify bool) {
	if channels == nil {
		channels = c.TrackedChannels()
	}
	left := make([]string, 0, len(channels))
	for _, ch := range channels {
		c.mu.RLock()
		_, tracked := c.channels[ch.ChannelID()]
		c.mu.RUnlock()
		if !tracked {
			continue
		}
		ch.RemoveMember(c, false)
		left = append(left, ch.ChannelID())
	}
	if notify && len(left) > 0 {
		c.Send(envelope.Payload{Type: "client.leave.channels", Content: map[string]interface{}{
			"channels": left,
		}}, envelope.Options{})
	}
}

// TrackedChannels returns the channels this client currently tracks.
func (c *Client) TrackedChannels() []ChannelOps {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ChannelOps, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

// HasChannel reports whether the client tracks the given channel id.
func (c *Client) HasChannel(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[id]
	return ok
}

// TrackChannel is a package-visible-by-convention helper used only by a
// Channel during AddMember coordination.
func (c *Client) TrackChannel(ch ChannelOps) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[ch.ChannelID()] = ch
}

// UntrackChannel is the RemoveMember counterpart to TrackChannel.
func (c *Client) UntrackChannel(ch ChannelOps) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, ch.ChannelID())
}

// Subscribe passes through to the Transport.
func (c *Client) Subscribe(topic string) error {
	return c.transport.Subscribe(topic)
}

// Unsubscribe passes through to the Transport.
func (c *Client) Unsubscribe(topic string) error {
	return c.transport.Unsubscribe(topic)
}

// GetConnectionInfo returns a snapshot of the connection for diagnostics.
func (c *Client) GetConnectionInfo() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	uptime := 0.0
	if !c.connectedAt.IsZero() {
		end := time.Now()
		if c.state == StateDisconnected && !c.disconnectedAt.IsZero() {
			end = c.disconnectedAt
		}
		uptime = end.Sub(c.connectedAt).Seconds()
	}

	return ConnectionInfo{
		ID:            c.identity.ID,
		Name:          c.identity.Name,
		State:         c.state.String(),
		ConnectedAt:   c.connectedAt,
		UptimeSeconds: uptime,
		ChannelCount:  len(c.channels),
	}
}
