package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sst_notify"

// Handshake results.
const (
	HandshakeAccepted = "accepted"
	HandshakeRejected = "rejected"
	HandshakeFailed   = "failed"
)

// Delivery statuses.
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliveryDropped = "dropped"
)

// Metrics holds the Prometheus collectors of the notification server.
type Metrics struct {
	activeConnections prometheus.Gauge
	onlineUsers       prometheus.Gauge
	channelMembers    *prometheus.GaugeVec
	handshakes        *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	disconnects       prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Live authenticated connections",
		}),
		onlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Identities with at least one live connection",
		}),
		channelMembers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "role_channel_connections",
			Help:      "Connections per role channel",
		}, []string{"channel"}),
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Connection handshakes by result",
		}, []string{"result"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-connection event sends by event and status",
		}, []string{"event", "status"}),
		disconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Connections torn down after activation",
		}),
	}
}

// The methods below are nil-safe so components can run without metrics.

func (m *Metrics) SetConnections(total, users int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(total))
	m.onlineUsers.Set(float64(users))
}

func (m *Metrics) SetChannelMembers(channel string, n int) {
	if m == nil {
		return
	}
	m.channelMembers.WithLabelValues(channel).Set(float64(n))
}

func (m *Metrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) Delivery(event, status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deliveries.WithLabelValues(event, status).Add(float64(n))
}

func (m *Metrics) Disconnect() {
	if m == nil {
		return
	}
	m.disconnects.Inc()
}
