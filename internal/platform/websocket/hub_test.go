package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/clinic-live/pkg/wire"
)

func newTestClient(id string, topics ...string) *Client {
	return &Client{
		ID:     id,
		UserID: "user-" + id,
		Topics: topics,
		Send:   make(chan []byte, 16),
	}
}

func mustMessage(t *testing.T, typ wire.Type, data any) wire.Message {
	t.Helper()
	msg, err := wire.New(typ, data)
	if err != nil {
		t.Fatalf("wire.New: %v", err)
	}
	return msg
}

func receive(t *testing.T, c *Client) wire.Message {
	t.Helper()
	select {
	case data := <-c.Send:
		msg, err := wire.Parse(data)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
	}
	return wire.Message{}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s should not have received %s", c.ID, data)
	default:
	}
}

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("c1", TopicDashboard)

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(TopicDashboard) != 1 {
		t.Fatalf("expected 1 subscriber on dashboard, got %d", hub.TopicCount(TopicDashboard))
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(TopicDashboard) != 0 {
		t.Fatalf("expected hub to be empty, got %d clients", hub.ClientCount())
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send to be closed")
	}
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	subscriber := newTestClient("sub", TopicDashboard)
	other := newTestClient("other", TopicNotifications)
	hub.Register(subscriber)
	hub.Register(other)

	n := hub.Broadcast(TopicDashboard, mustMessage(t, wire.TypeStatsUpdate, map[string]int{"totalPatients": 3}))
	if n != 1 {
		t.Fatalf("expected delivery to 1 client, got %d", n)
	}

	msg := receive(t, subscriber)
	if msg.Type != wire.TypeStatsUpdate {
		t.Fatalf("expected stats_update, got %s", msg.Type)
	}
	assertNothing(t, other)
}

func TestHub_BroadcastExceptSkipsSender(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := SessionTopic("s1")
	sender := newTestClient("a", topic)
	peer := newTestClient("b", topic)
	hub.Register(sender)
	hub.Register(peer)

	n := hub.BroadcastExcept(topic, mustMessage(t, wire.TypeCursorMove, nil), sender)
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	receive(t, peer)
	assertNothing(t, sender)
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("dyn")
	hub.Register(client)

	hub.Subscribe(client, LiveTopic("hr"), LiveTopic("bp"), LiveTopic("hr"))
	if len(client.Topics) != 2 {
		t.Fatalf("expected duplicate subscription to be skipped, got %v", client.Topics)
	}
	if !hub.Subscribed(client, LiveTopic("bp")) {
		t.Fatal("expected client subscribed to live:bp")
	}

	hub.Unsubscribe(client, LiveTopic("hr"))
	if hub.TopicCount(LiveTopic("hr")) != 0 {
		t.Fatalf("expected 0 on live:hr, got %d", hub.TopicCount(LiveTopic("hr")))
	}
	if hub.TopicCount(LiveTopic("bp")) != 1 {
		t.Fatalf("expected 1 on live:bp, got %d", hub.TopicCount(LiveTopic("bp")))
	}
	if len(client.Topics) != 1 || client.Topics[0] != LiveTopic("bp") {
		t.Fatalf("unexpected remaining topics %v", client.Topics)
	}
}

func TestHub_SubscribeUnknownClientIgnored(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ghost := newTestClient("ghost")
	hub.Subscribe(ghost, TopicDashboard)
	if hub.TopicCount(TopicDashboard) != 0 {
		t.Fatal("unregistered client should not be subscribed")
	}
}

func TestHub_SendToAfterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("gone")
	hub.Register(client)
	hub.Unregister(client)

	if hub.SendTo(client, mustMessage(t, wire.TypeError, nil)) {
		t.Fatal("SendTo should fail for an unregistered client")
	}
	if err := hub.Reply(client, wire.TypeError, nil); err == nil {
		t.Fatal("Reply should fail for an unregistered client")
	}
}

func TestHub_FullBufferDropsMessage(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", Topics: []string{TopicDashboard}, Send: make(chan []byte, 1)}
	hub.Register(client)

	msg := mustMessage(t, wire.TypeActivity, nil)
	if n := hub.Broadcast(TopicDashboard, msg); n != 1 {
		t.Fatalf("expected first broadcast delivered, got %d", n)
	}
	if n := hub.Broadcast(TopicDashboard, msg); n != 0 {
		t.Fatalf("expected second broadcast dropped, got %d", n)
	}
}

func TestHub_PublishAndEmit(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("p", TopicNotifications)
	hub.Register(client)

	if err := hub.Publish(context.Background(), TopicNotifications, mustMessage(t, wire.TypeNotification, nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	receive(t, client)

	n, err := hub.Emit(TopicNotifications, wire.TypeNotification, map[string]string{"id": "n1"}, nil)
	if err != nil || n != 1 {
		t.Fatalf("Emit = %d, %v", n, err)
	}
	msg := receive(t, client)
	var body map[string]string
	if err := json.Unmarshal(msg.Data, &body); err != nil || body["id"] != "n1" {
		t.Fatalf("unexpected payload %s", msg.Data)
	}
}

func TestHub_CloseAll(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := newTestClient("a", TopicDashboard)
	b := newTestClient("b", TopicDashboard)
	hub.Register(a)
	hub.Register(b)

	hub.CloseAll()
	if hub.ClientCount() != 0 || hub.TopicCount(TopicDashboard) != 0 {
		t.Fatal("expected CloseAll to empty the hub")
	}
	if _, ok := <-a.Send; ok {
		t.Fatal("expected a.Send closed")
	}
	// Unregister after CloseAll must not double-close.
	hub.Unregister(b)
}

func TestTopicHelpers(t *testing.T) {
	if UserTopic("u1") != "user:u1" || LiveTopic("hr") != "live:hr" || SessionTopic("s") != "session:s" {
		t.Fatal("unexpected topic format")
	}
}
