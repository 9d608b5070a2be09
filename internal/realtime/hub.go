package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// EventHandler is called once for every event delivered on a topic, local or from another instance.
type EventHandler func(topic, event string)

// Hub maintains topic -> set of connections and fans out change events.
// With Redis configured, Publish goes through Redis only and the subscription callback performs
// the local broadcast, so every instance (this one included) delivers each event once.
type Hub struct {
	// topic -> map[clientID]*Client
	topics  map[string]map[string]*Client
	subs    map[string]func() // cancel Redis subscription per topic
	mu      sync.RWMutex
	logger  *zap.Logger
	redis   RedisPublisher
	sub     RedisSubscriber
	onEvent EventHandler
}

// RedisPublisher publishes topic events for cross-instance delivery.
type RedisPublisher interface {
	PublishTopicEvent(topic, event string, payload []byte) error
}

// RedisSubscriber subscribes to a topic channel and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeTopic(topic string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub RedisPublisher, sub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics: make(map[string]map[string]*Client),
		subs:   make(map[string]func()),
		logger: logger,
		redis:  pub,
		sub:    sub,
	}
}

// SetEventHandler sets the callback run for every delivered event (e.g. cache invalidation).
func (h *Hub) SetEventHandler(fn EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEvent = fn
}

// Start subscribes to the Redis channel of every topic. The subscriptions live until Close,
// independent of connected clients, because the event handler must see remote writes.
func (h *Hub) Start(topics ...string) error {
	if h.sub == nil {
		return nil
	}
	for _, topic := range topics {
		topic := topic
		h.mu.Lock()
		_, exists := h.subs[topic]
		h.mu.Unlock()
		if exists {
			continue
		}
		cancel, err := h.sub.SubscribeTopic(topic, func(event string, payload []byte) {
			h.deliver(topic, event, json.RawMessage(payload))
		})
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.subs[topic] = cancel
		h.mu.Unlock()
	}
	return nil
}

// Close cancels all Redis subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, cancel := range h.subs {
		cancel()
		delete(h.subs, topic)
	}
}

// Register adds a client to its topic room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.topics[c.Topic] == nil {
		h.topics[c.Topic] = make(map[string]*Client)
	}
	h.topics[c.Topic][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client subscribed", zap.String("client_id", c.ID), zap.String("topic", c.Topic))
}

// Unregister removes a client from its topic room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.topics[c.Topic]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.topics, c.Topic)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client unsubscribed", zap.String("client_id", c.ID), zap.String("topic", c.Topic))
}

// Broadcast sends a message to all local clients of a topic.
func (h *Hub) Broadcast(topic, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Warn("marshal event payload", zap.Error(err), zap.String("event", event))
			return
		}
	}
	msg := WSMessage{Topic: topic, Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.topics[topic] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Publish delivers an event to every instance's subscribers of topic.
func (h *Hub) Publish(topic, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal event payload", zap.Error(err), zap.String("event", event))
		return
	}
	if h.redis != nil {
		err := h.redis.PublishTopicEvent(topic, event, data)
		if err == nil {
			return
		}
		h.logger.Warn("redis publish failed, delivering locally", zap.Error(err), zap.String("topic", topic))
	}
	h.deliver(topic, event, json.RawMessage(data))
}

func (h *Hub) deliver(topic, event string, payload json.RawMessage) {
	h.mu.RLock()
	onEvent := h.onEvent
	h.mu.RUnlock()
	if onEvent != nil {
		onEvent(topic, event)
	}
	h.Broadcast(topic, event, payload)
}

// Subscribers returns the number of local clients on a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
