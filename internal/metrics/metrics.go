package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Connections     *prometheus.GaugeVec
	FramesIn        *prometheus.CounterVec
	FrameErrors     *prometheus.CounterVec
	MessagesSent    *prometheus.CounterVec
	FloodRejections prometheus.Counter
	RelayDrops      *prometheus.CounterVec
	RelayTopics     *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_ws_connections",
			Help: "Open websocket connections by scope.",
		}, []string{"scope"}),
		FramesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_ws_frames_total",
			Help: "Inbound frames by type.",
		}, []string{"type"}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_ws_frame_errors_total",
			Help: "Error frames sent back to clients by kind.",
		}, []string{"kind"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Committed chat messages.",
		}, []string{"emergency"}),
		FloodRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_emergency_rejections_total",
			Help: "Emergency messages rejected by the flood guard.",
		}),
		RelayDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_relay_drops_total",
			Help: "Clients disconnected because their send buffer was full.",
		}, []string{"relay"}),
		RelayTopics: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_relay_topics",
			Help: "Live relay topics.",
		}, []string{"relay"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections, m.FramesIn, m.FrameErrors, m.MessagesSent,
		m.FloodRejections, m.RelayDrops, m.RelayTopics,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
