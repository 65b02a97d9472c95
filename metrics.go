package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"
)

type metrics struct {
	connections     prometheus.Gauge
	handshakes      *prometheus.CounterVec
	messages        *prometheus.CounterVec
	broadcastErrors prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of open WebSocket connections.",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "websocket_handshakes_total",
			Help: "Number of opening handshakes by result.",
		}, []string{"result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "websocket_messages_total",
			Help: "Number of messages read by opcode.",
		}, []string{"opcode"}),
		broadcastErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "websocket_broadcast_errors_total",
			Help: "Number of failed broadcast writes.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.connections, m.handshakes, m.messages, m.broadcastErrors} {
		err := reg.Register(c)
		if err != nil {
			return nil, xerrors.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

// The helpers below are no-ops on a nil *metrics so dialed connections
// can share the code paths of served ones.

func (m *metrics) message(op Opcode) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(op.String()).Inc()
}

func (m *metrics) handshake(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *metrics) connOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *metrics) connClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *metrics) broadcastError() {
	if m == nil {
		return
	}
	m.broadcastErrors.Inc()
}
