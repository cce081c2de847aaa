// Package envelope builds and serializes the wire format emitted to
// WebSocket clients, keeping transport/processing options out of the
// JSON that actually reaches a socket.
package envelope

import (
	"encoding/json"
	"time"
)

// Identity attributes a sender in an outgoing envelope.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Envelope is the immutable wire structure placed on the wire as JSON.
type Envelope struct {
	Type      string                 `json:"type"`
	Channel   string                 `json:"channel,omitempty"`
	Content   map[string]interface{} `json:"content"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Client    *Identity              `json:"client,omitempty"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
	Priority  *int                   `json:"priority,omitempty"`
	ExpiresAt *int64                 `json:"expiresAt,omitempty"`

	// custom holds caller-supplied root-level fields merged in last;
	// it is flattened into the JSON output by MarshalJSON.
	custom map[string]interface{}

	// transformed, when non-nil, makes MarshalJSON emit this value
	// verbatim instead of the envelope's own fields (Transform
	// short-circuit per Build's fixed option order).
	transformed interface{}
}

// Payload is the caller-supplied message to build an envelope from.
// Content may be a string (wrapped as {"message": ...}), a
// map[string]interface{} (shallow-copied), or nil/anything else
// (coerced to an empty object).
type Payload struct {
	Type    string
	Channel string
	Content interface{}
}

// Options are server-only construction/transport knobs. None of these
// keys are ever copied into the serialized Envelope.
type Options struct {
	Data             interface{}
	Client           *Identity
	IncludeMetadata  interface{} // bool or []string
	ExcludeClients   []string
	Channel          string
	IncludeTimestamp *bool // default true
	CustomFields     map[string]interface{}
	Transform        func(*Envelope) interface{}
	Priority         *int
	ExpiresAt        *int64
	Metadata         map[string]string
}

// Build produces an envelope from a payload and options, applying
// options in a fixed order: data, client, metadata, timestamp,
// priority/expiresAt, custom fields, and finally Transform.
func Build(payload Payload, opts Options) *Envelope {
	env := &Envelope{
		Type: payload.Type,
	}

	env.Channel = payload.Channel
	if env.Channel == "" {
		env.Channel = opts.Channel
	}
	if env.Channel == "" {
		env.Channel = "N/A"
	}

	env.Content = normalizeContent(payload.Content)

	applyData(env, opts.Data)
	applyClient(env, opts.Client)
	applyMetadata(env, opts.Metadata)
	applyTimestamp(env, opts.IncludeTimestamp)

	if opts.Priority != nil {
		p := *opts.Priority
		env.Priority = &p
	}
	if opts.ExpiresAt != nil {
		e := *opts.ExpiresAt
		env.ExpiresAt = &e
	}

	if len(opts.CustomFields) > 0 {
		env.custom = make(map[string]interface{}, len(opts.CustomFields))
		for k, v := range opts.CustomFields {
			env.custom[k] = v
		}
	}

	if opts.Transform != nil {
		// Transform runs last and short-circuits: the caller gets back
		// whatever it returns, not necessarily an *Envelope.
		return wrapTransformed(opts.Transform(env))
	}

	return env
}

// BuildBare constructs a minimal envelope directly from payload: just
// type and content, with no channel defaulting, no sender attribution,
// no timestamp, no metadata. It exists for protocol-level frames (the
// "ping" heartbeat's "pong" reply) that are not attributed messages and
// must not pick up Build's "N/A" channel default or Send's identity.
func BuildBare(payload Payload) *Envelope {
	return &Envelope{
		Type:    payload.Type,
		Content: normalizeContent(payload.Content),
	}
}

// wrapTransformed lets Serialize treat a transform's return value
// uniformly regardless of whether it is an *Envelope or arbitrary data.
func wrapTransformed(v interface{}) *Envelope {
	if env, ok := v.(*Envelope); ok {
		return env
	}
	return &Envelope{transformed: v}
}

func normalizeContent(content interface{}) map[string]interface{} {
	switch v := content.(type) {
	case string:
		return map[string]interface{}{"message": v}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out
	default:
		return map[string]interface{}{}
	}
}

func applyData(env *Envelope, data interface{}) {
	if data == nil {
		return
	}
	if m, ok := data.(map[string]interface{}); ok {
		for k, v := range m {
			env.Content[k] = v
		}
		return
	}
	env.Content["data"] = data
}

func applyClient(env *Envelope, identity *Identity) {
	if identity == nil || identity.ID == "" {
		return
	}
	name := identity.Name
	if name == "" {
		name = "Unknown"
	}
	env.Client = &Identity{ID: identity.ID, Name: name}
}

func applyMetadata(env *Envelope, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	env.Metadata = metadata
}

func applyTimestamp(env *Envelope, includeTimestamp *bool) {
	include := true
	if includeTimestamp != nil {
		include = *includeTimestamp
	}
	if !include {
		return
	}
	env.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// MarshalJSON flattens custom fields into the root object and honors a
// Transform short-circuit.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	if e.transformed != nil {
		return json.Marshal(e.transformed)
	}

	type alias Envelope
	base, err := json.Marshal((*alias)(e))
	if err != nil {
		return nil, err
	}
	if len(e.custom) == 0 {
		return base, nil
	}

	var merged map[string]interface{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.custom {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Serialize applies transform if given (overriding any transform already
// baked into env by Build), else JSON-marshals the envelope.
func Serialize(env *Envelope, transform func(*Envelope) interface{}) ([]byte, error) {
	if transform != nil {
		return json.Marshal(transform(env))
	}
	return json.Marshal(env)
}
