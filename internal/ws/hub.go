package ws

import (
	"encoding/json"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kiananasiri/therapyconnect/internal/metrics"
)

// Hub is a registry of topics, each holding the clients currently subscribed
// to it. A topic exists from its first join until its last leave. One Hub
// serves chat groups (topic = chat id) and another serves user notifications
// (topic = user id).
type Hub struct {
	name   string
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}

	drops     prometheus.Counter
	topicSize prometheus.Gauge
	log       *zap.Logger
}

func NewHub(name string, m *metrics.Metrics, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		name:      name,
		topics:    make(map[string]map[*Client]struct{}),
		drops:     m.RelayDrops.WithLabelValues(name),
		topicSize: m.RelayTopics.WithLabelValues(name),
		log:       log.With(zap.String("relay", name)),
	}
}

// Join adds c to topic, creating the topic on first use.
func (h *Hub) Join(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.topics[topic]
	if !ok {
		members = make(map[*Client]struct{})
		h.topics[topic] = members
		h.topicSize.Inc()
	}
	members[c] = struct{}{}
}

// Leave removes c from topic and drops the topic once empty. Leaving twice
// is harmless.
func (h *Hub) Leave(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.topics, topic)
		h.topicSize.Dec()
	}
}

// Publish queues v for every current member of topic and returns how many
// members accepted it. A member whose send buffer is full is disconnected
// and removed; one that is already closing is removed without counting as a
// drop.
func (h *Hub) Publish(topic string, v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal frame", zap.String("topic", topic), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range members {
		switch c.enqueue(data) {
		case queued:
			delivered++
		case clientClosed:
			// Already disconnecting, not a slow reader.
			h.Leave(topic, c)
		case bufferFull:
			h.drops.Inc()
			h.log.Warn("dropping slow client", zap.String("topic", topic), zap.String("client_id", c.ID()))
			c.Close()
			h.Leave(topic, c)
		}
	}
	return delivered
}

// Members reports the number of clients subscribed to topic.
func (h *Hub) Members(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Topics reports the number of live topics.
func (h *Hub) Topics() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}
