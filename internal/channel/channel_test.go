package channel

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"relayhub/internal/client"
	"relayhub/internal/envelope"
	"relayhub/internal/logging"
)

// fakeTransport records sends and can be made to fail on demand.
type fakeTransport struct {
	mu           sync.Mutex
	sent         [][]byte
	subscribed   []string
	unsubscribed []string
	sendErr      error
	subErr       error
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topic)
	return nil
}

func (f *fakeTransport) PublishTopic(topic string, data []byte) error { return nil }
func (f *fakeTransport) Close(code int, reason string) error          { return nil }

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeBroker records PublishTopic calls for the broadcast fast path.
type fakeBroker struct {
	mu    sync.Mutex
	calls int
	topic string
	data  []byte
}

func (b *fakeBroker) PublishTopic(topic string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.topic = topic
	b.data = data
	return nil
}

func newTestClient(id string) (*client.Client, *fakeTransport) {
	ft := &fakeTransport{}
	c := client.New(client.Identity{ID: id, Name: id}, ft, logging.NewLogger())
	c.MarkConnected()
	return c, ft
}

func TestAddMemberCapacity(t *testing.T) {
	ch := New("room", "Room", 2, nil, logging.NewLogger())

	u1, _ := newTestClient("u1")
	u2, _ := newTestClient("u2")
	u3, ft3 := newTestClient("u3")

	if res := ch.AddMember(u1, false); !res.OK {
		t.Fatalf("expected u1 join ok, got %#v", res)
	}
	if res := ch.AddMember(u2, false); !res.OK {
		t.Fatalf("expected u2 join ok, got %#v", res)
	}

	res := ch.AddMember(u3, true)
	if res.OK || res.Reason != "full" {
		t.Fatalf("expected full rejection, got %#v", res)
	}
	if ch.GetSize() != 2 {
		t.Fatalf("expected size 2, got %d", ch.GetSize())
	}
	if ft3.sentCount() != 1 {
		t.Fatalf("expected one CHANNEL_FULL notification, got %d", ft3.sentCount())
	}

	var out map[string]interface{}
	if err := json.Unmarshal(ft3.sent[0], &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	content := out["content"].(map[string]interface{})
	if content["code"] != "CHANNEL_FULL" {
		t.Fatalf("expected CHANNEL_FULL code, got %#v", content)
	}
}

// TestAddMemberConcurrentCannotOvershootLimit fires N concurrent joins
// against a channel with limit < N and asserts exactly limit succeed,
// proving reserveSlot's capacity-check-and-insert is truly atomic under
// a race rather than merely checked-then-acted in two steps.
func TestAddMemberConcurrentCannotOvershootLimit(t *testing.T) {
	const limit = 3
	const attempts = 20

	ch := New("room", "Room", limit, nil, logging.NewLogger())

	clients := make([]*client.Client, attempts)
	for i := range clients {
		clients[i], _ = newTestClient(string(rune('a' + i)))
	}

	results := make(chan client.JoinResult, attempts)
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *client.Client) {
			defer wg.Done()
			results <- ch.AddMember(c, false)
		}(c)
	}
	wg.Wait()
	close(results)

	ok := 0
	for res := range results {
		if res.OK {
			ok++
		}
	}

	if ok != limit {
		t.Fatalf("expected exactly %d successful joins, got %d", limit, ok)
	}
	if ch.GetSize() != limit {
		t.Fatalf("expected channel size %d, got %d", limit, ch.GetSize())
	}
}

func TestAddMemberAlreadyMemberIdempotent(t *testing.T) {
	ch := New("room", "Room", 5, nil, logging.NewLogger())
	u1, _ := newTestClient("u1")

	if res := ch.AddMember(u1, false); !res.OK {
		t.Fatalf("expected first join ok")
	}
	res := ch.AddMember(u1, false)
	if res.OK || res.Reason != "already_member" {
		t.Fatalf("expected already_member, got %#v", res)
	}
	if ch.GetSize() != 1 {
		t.Fatalf("expected size unchanged at 1, got %d", ch.GetSize())
	}
}

func TestAddMemberRollsBackOnSubscribeFailure(t *testing.T) {
	ch := New("room", "Room", 5, nil, logging.NewLogger())
	ft := &fakeTransport{subErr: errors.New("boom")}
	c := client.New(client.Identity{ID: "u1", Name: "u1"}, ft, logging.NewLogger())
	c.MarkConnected()

	res := ch.AddMember(c, false)
	if res.OK || res.Reason != "error" {
		t.Fatalf("expected error reason, got %#v", res)
	}
	if ch.HasMember("u1") {
		t.Fatalf("expected rollback to remove member")
	}
	if c.HasChannel("room") {
		t.Fatalf("expected rollback to untrack channel")
	}
}

func TestRemoveMemberIdempotent(t *testing.T) {
	ch := New("room", "Room", 5, nil, logging.NewLogger())
	u1, _ := newTestClient("u1")
	ch.AddMember(u1, false)

	removed := ch.RemoveMember(u1, false)
	if !removed {
		t.Fatalf("expected first removal to succeed")
	}
	removed = ch.RemoveMember(u1, false)
	if removed {
		t.Fatalf("expected second removal to be a no-op")
	}
	if u1.HasChannel("room") {
		t.Fatalf("expected client untracked after removal")
	}
}

func TestBroadcastExcludeClientsUsesPerMemberPath(t *testing.T) {
	broker := &fakeBroker{}
	ch := New("room", "Room", 5, broker, logging.NewLogger())

	u1, ft1 := newTestClient("u1")
	u2, ft2 := newTestClient("u2")
	u3, ft3 := newTestClient("u3")
	ch.AddMember(u1, false)
	ch.AddMember(u2, false)
	ch.AddMember(u3, false)

	ch.Broadcast(envelope.Payload{Type: "x", Content: map[string]interface{}{"n": 1}}, BroadcastOptions{
		ExcludeClients: []string{"u2"},
	})

	if ft1.sentCount() != 1 {
		t.Fatalf("expected u1 to receive one message, got %d", ft1.sentCount())
	}
	if ft3.sentCount() != 1 {
		t.Fatalf("expected u3 to receive one message, got %d", ft3.sentCount())
	}
	if ft2.sentCount() != 0 {
		t.Fatalf("expected u2 excluded, got %d sends", ft2.sentCount())
	}
	if broker.calls != 0 {
		t.Fatalf("expected PublishTopic not to be called on exclusion path, got %d calls", broker.calls)
	}
}

func TestBroadcastFastPathPublishesOnce(t *testing.T) {
	broker := &fakeBroker{}
	ch := New("room", "Room", 5, broker, logging.NewLogger())
	u1, ft1 := newTestClient("u1")
	ch.AddMember(u1, false)

	ch.Broadcast(envelope.Payload{Type: "x", Content: "hi"}, BroadcastOptions{})

	if broker.calls != 1 {
		t.Fatalf("expected exactly one PublishTopic call, got %d", broker.calls)
	}
	if broker.topic != "room" {
		t.Fatalf("expected topic 'room', got %s", broker.topic)
	}
	if ft1.sentCount() != 0 {
		t.Fatalf("expected per-member Send not to be called on fast path, got %d", ft1.sentCount())
	}
}

func TestDeleteEvacuatesMembers(t *testing.T) {
	ch := New("room", "Room", 5, nil, logging.NewLogger())
	u1, _ := newTestClient("u1")
	u2, _ := newTestClient("u2")
	ch.AddMember(u1, false)
	ch.AddMember(u2, false)

	ch.Delete()

	if ch.GetSize() != 0 {
		t.Fatalf("expected empty channel after delete, got %d", ch.GetSize())
	}
	if u1.HasChannel("room") || u2.HasChannel("room") {
		t.Fatalf("expected members untracked after delete")
	}
}
