// Package metrics exposes Prometheus instrumentation for the dashboard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"pulseboard/internal/models"
	"pulseboard/internal/realtime"
)

// Metrics holds the registered collectors.
type Metrics struct {
	linkState   *prometheus.GaugeVec
	reconnects  prometheus.Counter
	eventsTotal prometheus.Counter
	deliveries  *prometheus.CounterVec
}

// New registers the dashboard collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		linkState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pulseboard",
			Name:      "link_state",
			Help:      "Current upstream link state (1 for the active state, 0 otherwise).",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulseboard",
			Name:      "link_reconnects_total",
			Help:      "Number of reconnect attempts after a failure.",
		}),
		eventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulseboard",
			Name:      "events_received_total",
			Help:      "Events received from the upstream feed.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulseboard",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery outcomes.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.linkState, m.reconnects, m.eventsTotal, m.deliveries)
	return m
}

// ObserveTransition updates the state gauge; watcher-compatible with the
// realtime link.
func (m *Metrics) ObserveTransition(change models.StateChange, _ realtime.Snapshot) {
	for _, state := range []string{"idle", "connecting", "connected", "failed"} {
		value := 0.0
		if state == change.To {
			value = 1.0
		}
		m.linkState.WithLabelValues(state).Set(value)
	}
	if change.From == "failed" && change.To == "connecting" {
		m.reconnects.Inc()
	}
}

// ObserveEvent counts one inbound event.
func (m *Metrics) ObserveEvent(models.Event) {
	m.eventsTotal.Inc()
}

// ObserveDelivery counts one finished webhook delivery.
func (m *Metrics) ObserveDelivery(result models.DeliveryResult) {
	outcome := "error"
	if result.OK {
		outcome = "ok"
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}
