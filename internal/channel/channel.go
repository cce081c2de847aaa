// Package channel implements the membership authority and fan-out
// engine for a named pub/sub topic.
package channel

import (
	"fmt"
	"sync"
	"time"

	"relayhub/internal/client"
	"relayhub/internal/envelope"
	"relayhub/internal/logging"
)

// DefaultLimit is the member cap applied when none is configured.
const DefaultLimit = 5

// Broadcaster is the subset of Transport a Channel needs to publish to
// its topic without per-member iteration.
type Broadcaster interface {
	PublishTopic(topic string, data []byte) error
}

// Channel is a named topic with a bounded member set.
type Channel struct {
	id      string
	name    string
	limit   int
	logger  logging.Logger
	broker  Broadcaster
	created time.Time

	mu       sync.RWMutex
	members  map[string]*client.Client
	metadata map[string]string
}

// New constructs a channel. broker is used by Broadcast's fast path
// (PublishTopic); it may be nil, in which case Broadcast writes to each
// member individually.
func New(id, name string, limit int, broker Broadcaster, logger logging.Logger) *Channel {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Channel{
		id:       id,
		name:     name,
		limit:    limit,
		broker:   broker,
		logger:   logger,
		created:  time.Now(),
		members:  make(map[string]*client.Client),
		metadata: make(map[string]string),
	}
}

// ChannelID implements client.ChannelOps.
func (ch *Channel) ChannelID() string { return ch.id }

// SetBroker late-binds the broker used by Broadcast's fast path, for
// channels constructed before the transport server is available.
func (ch *Channel) SetBroker(broker Broadcaster) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.broker = broker
}

// Name returns the channel's display name.
func (ch *Channel) Name() string { return ch.name }

// Limit returns the configured member cap.
func (ch *Channel) Limit() int { return ch.limit }

// CreatedAt returns the channel's creation time.
func (ch *Channel) CreatedAt() time.Time { return ch.created }

// SetMetadata sets a metadata key/value pair.
func (ch *Channel) SetMetadata(key, value string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.metadata[key] = value
}

// GetMetadata returns a copy of the channel's metadata.
func (ch *Channel) GetMetadata() map[string]string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	out := make(map[string]string, len(ch.metadata))
	for k, v := range ch.metadata {
		out[k] = v
	}
	return out
}

// GetSize returns the current member count.
func (ch *Channel) GetSize() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.members)
}

// CanAddMember reports whether the channel has room for another member.
func (ch *Channel) CanAddMember() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.members) < ch.limit
}

// HasMember reports membership by client id.
func (ch *Channel) HasMember(id string) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	_, ok := ch.members[id]
	return ok
}

// GetMember returns a member by id.
func (ch *Channel) GetMember(id string) (*client.Client, bool) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	c, ok := ch.members[id]
	return c, ok
}

// GetMembers returns all members, optionally filtered.
func (ch *Channel) GetMembers(filter func(*client.Client) bool) []*client.Client {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	out := make([]*client.Client, 0, len(ch.members))
	for _, c := range ch.members {
		if filter == nil || filter(c) {
			out = append(out, c)
		}
	}
	return out
}

// AddMember joins c to the channel. The capacity check and insertion are
// a single atomic section under ch.mu so concurrent joins cannot
// overshoot limit. Subscribe/TrackChannel run after the lock is released
// (they may block or error); any failure there rolls back the
// membership, subscription, and tracking.
func (ch *Channel) AddMember(c *client.Client, notify bool) client.JoinResult {
	switch ch.reserveSlot(c) {
	case slotAlreadyMember:
		return client.JoinResult{OK: false, Reason: "already_member"}
	case slotFull:
		if notify {
			ch.sendFullError(c)
		}
		return client.JoinResult{OK: false, Reason: "full"}
	}

	if err := ch.completeJoin(c, notify); err != nil {
		ch.rollbackJoin(c)
		return client.JoinResult{OK: false, Reason: "error", Err: err}
	}

	return client.JoinResult{OK: true}
}

type slotOutcome int

const (
	slotReserved slotOutcome = iota
	slotAlreadyMember
	slotFull
)

// reserveSlot performs the atomic already-member/capacity check and, if
// there is room, inserts c into members — all under a single critical
// section so two concurrent joins can never both pass the check.
func (ch *Channel) reserveSlot(c *client.Client) slotOutcome {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, exists := ch.members[c.ID()]; exists {
		return slotAlreadyMember
	}
	if len(ch.members) >= ch.limit {
		return slotFull
	}
	ch.members[c.ID()] = c
	return slotReserved
}

// completeJoin performs the post-insertion coordination steps that may
// block or fail: subscribe to the topic, track the channel on the
// client, and optionally notify. It runs outside ch.mu.
func (ch *Channel) completeJoin(c *client.Client, notify bool) error {
	if err := c.Subscribe(ch.id); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.TrackChannel(ch)

	if notify {
		c.Send(envelope.Payload{
			Type:    "client.join.channel",
			Channel: ch.id,
			Content: map[string]interface{}{
				"channel": ch.id,
				"message": fmt.Sprintf("Joined channel %q", ch.name),
			},
		}, envelope.Options{})
	}
	return nil
}

// rollbackJoin undoes a partial AddMember after a failure in
// completeJoin: remove from members, unsubscribe, untrack.
func (ch *Channel) rollbackJoin(c *client.Client) {
	ch.mu.Lock()
	delete(ch.members, c.ID())
	ch.mu.Unlock()

	_ = c.Unsubscribe(ch.id)
	c.UntrackChannel(ch)
	if ch.logger != nil {
		ch.logger.WithField("client_id", c.ID()).WithField("channel", ch.id).Warn("rolled back failed channel join")
	}
}

func (ch *Channel) sendFullError(c *client.Client) {
	c.Send(envelope.Payload{
		Type:    "error",
		Channel: ch.id,
		Content: map[string]interface{}{
			"code":    "CHANNEL_FULL",
			"channel": ch.id,
			"message": fmt.Sprintf("Channel %q is full (%d members)", ch.id, ch.limit),
		},
	}, envelope.Options{})
}

// RemoveMember removes entity from the channel. Returns false if it
// wasn't a member.
func (ch *Channel) RemoveMember(c *client.Client, notify bool) bool {
	ch.mu.Lock()
	_, ok := ch.members[c.ID()]
	if ok {
		delete(ch.members, c.ID())
	}
	ch.mu.Unlock()

	if !ok {
		return false
	}

	_ = c.Unsubscribe(ch.id)
	c.UntrackChannel(ch)

	if notify {
		c.Send(envelope.Payload{
			Type:    "client.leave.channel",
			Channel: ch.id,
			Content: map[string]interface{}{
				"channel": ch.id,
				"message": fmt.Sprintf("Left channel %q", ch.name),
			},
		}, envelope.Options{})
	}

	return true
}

// BroadcastOptions controls a single Broadcast call.
type BroadcastOptions struct {
	IncludeMetadata interface{} // bool or []string
	ExcludeClients  []string
	Client          *client.Identity
	CustomFields    map[string]interface{}
	Transform       func(*envelope.Envelope) interface{}
}

// Broadcast builds an envelope (forcing channel = ch.id), attaches
// metadata per IncludeMetadata, then either publishes once via the
// broker (fast path) or writes to each non-excluded member individually.
func (ch *Channel) Broadcast(payload envelope.Payload, opts BroadcastOptions) {
	env := envelope.Build(payload, envelope.Options{
		Channel:      ch.id,
		Client:       opts.Client,
		CustomFields: opts.CustomFields,
		Transform:    opts.Transform,
		Metadata:     ch.resolveMetadata(opts.IncludeMetadata),
	})

	data, err := envelope.Serialize(env, nil)
	if err != nil {
		if ch.logger != nil {
			ch.logger.WithError(err).WithField("channel", ch.id).Error("failed to serialize broadcast envelope")
		}
		return
	}

	if len(opts.ExcludeClients) > 0 {
		ch.fanOutExcluding(data, opts.ExcludeClients)
		return
	}

	if ch.broker == nil {
		ch.fanOutExcluding(data, nil)
		return
	}
	if err := ch.broker.PublishTopic(ch.id, data); err != nil && ch.logger != nil {
		ch.logger.WithError(err).WithField("channel", ch.id).Error("publish topic failed")
	}
}

func (ch *Channel) resolveMetadata(includeMetadata interface{}) map[string]string {
	switch v := includeMetadata.(type) {
	case bool:
		if !v {
			return nil
		}
		return ch.GetMetadata()
	case []string:
		all := ch.GetMetadata()
		out := make(map[string]string, len(v))
		for _, key := range v {
			if val, ok := all[key]; ok {
				out[key] = val
			}
		}
		return out
	default:
		return nil
	}
}

func (ch *Channel) fanOutExcluding(data []byte, exclude []string) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	ch.mu.RLock()
	recipients := make([]*client.Client, 0, len(ch.members))
	for id, c := range ch.members {
		if _, skip := excluded[id]; skip {
			continue
		}
		recipients = append(recipients, c)
	}
	ch.mu.RUnlock()

	for _, c := range recipients {
		if err := c.WriteRaw(data); err != nil && ch.logger != nil {
			ch.logger.WithError(err).WithField("client_id", c.ID()).Warn("per-member broadcast send failed")
		}
	}
}

// Whisper sends a payload only to the named recipient, typed "whisper"
// unless the payload already carries a type. It is sugar over Send: no
// new routing primitive, per the reserved "whisper" type being a tag only.
func (ch *Channel) Whisper(from *client.Identity, to *client.Client, payload envelope.Payload) {
	if payload.Type == "" {
		payload.Type = "whisper"
	}
	payload.Channel = ch.id
	to.Send(payload, envelope.Options{Client: from})
}

// Delete evacuates all members (with notification) and clears the
// channel. The channel itself is removed from any registry by the
// caller (the Hub).
func (ch *Channel) Delete() {
	for _, c := range ch.GetMembers(nil) {
		ch.RemoveMember(c, true)
	}
}
