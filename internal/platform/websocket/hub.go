// Package websocket is the realtime gateway. Clients connect per concern,
// are subscribed to topics, and receive wire messages broadcast to those
// topics. Inbound client messages are handed to a per-concern Processor.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/ehr/clinic-live/pkg/wire"
)

// Well-known topics.
const (
	TopicDashboard     = "dashboard"
	TopicNotifications = "notifications"
)

// UserTopic addresses every connection of one user.
func UserTopic(userID string) string { return "user:" + userID }

// LiveTopic addresses subscribers of a live-data channel.
func LiveTopic(channel string) string { return "live:" + channel }

// SessionTopic addresses participants of a collaboration session.
func SessionTopic(sessionID string) string { return "session:" + sessionID }

// Publisher delivers a message to every subscriber of a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg wire.Message) error
}

// Client is one gateway connection.
type Client struct {
	ID      string
	UserID  string
	Name    string
	Concern wire.Concern
	Topics  []string
	Send    chan []byte

	hub  *Hub
	conn *gorillawebsocket.Conn
}

// Hub tracks clients and their topic subscriptions. Safe for concurrent use.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}

	queued  atomic.Int64
	dropped atomic.Int64
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "gateway").Logger(),
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
	}
}

// Register adds a client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.hub = h
	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(topic, client)
	}
}

// Unregister removes a client from every topic and closes its Send channel.
// Calling it twice is harmless.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(topic, client)
	}
	client.Topics = nil
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to a registered client. Topics the client already
// holds are skipped.
func (h *Hub) Subscribe(client *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range topics {
		if _, dup := h.clients[topic][client]; dup {
			continue
		}
		h.addLocked(topic, client)
		client.Topics = append(client.Topics, topic)
	}
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		drop[t] = struct{}{}
		h.removeLocked(t, client)
	}

	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if _, rm := drop[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// Subscribed reports whether client currently holds topic.
func (h *Hub) Subscribed(client *Client, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[topic][client]
	return ok
}

// Broadcast sends msg to every subscriber of topic and returns how many
// clients it was queued for.
func (h *Hub) Broadcast(topic string, msg wire.Message) int {
	return h.BroadcastExcept(topic, msg, nil)
}

// BroadcastExcept is Broadcast skipping one client, typically the sender.
func (h *Hub) BroadcastExcept(topic string, msg wire.Message, except *Client) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("marshal broadcast")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients[topic] {
		if client == except {
			continue
		}
		if h.queueLocked(client, data) {
			delivered++
		}
	}
	return delivered
}

// SendTo queues msg for a single client. It reports false when the client
// is gone or its buffer is full.
func (h *Hub) SendTo(client *Client, msg wire.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("marshal direct message")
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.all[client]; !ok {
		return false
	}
	return h.queueLocked(client, data)
}

// Publish implements Publisher.
func (h *Hub) Publish(_ context.Context, topic string, msg wire.Message) error {
	h.Broadcast(topic, msg)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of subscribers of topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// HubStats is a point-in-time view of the hub for metrics.
type HubStats struct {
	Clients map[wire.Concern]int
	Topics  int
	Queued  int64
	Dropped int64
}

// Stats counts clients per concern and the frames queued or dropped since
// start.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := HubStats{
		Clients: make(map[wire.Concern]int),
		Topics:  len(h.clients),
		Queued:  h.queued.Load(),
		Dropped: h.dropped.Load(),
	}
	for c := range h.all {
		st.Clients[c.Concern]++
	}
	return st
}

// CloseAll unregisters every client. Their write pumps send a close frame
// and exit.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.all {
		close(client.Send)
		client.Topics = nil
	}
	h.all = make(map[*Client]struct{})
	h.clients = make(map[string]map[*Client]struct{})
}

func (h *Hub) addLocked(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) removeLocked(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

func (h *Hub) queueLocked(client *Client, data []byte) bool {
	select {
	case client.Send <- data:
		h.queued.Inc()
		return true
	default:
		h.dropped.Inc()
		h.logger.Warn().Str("client", client.ID).Msg("send buffer full, dropping message")
		return false
	}
}
