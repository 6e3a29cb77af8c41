package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the conversation core absorbs and produces.
type Metrics struct {
	Events         *prometheus.CounterVec
	Duplicates     prometheus.Counter
	BlockedDropped prometheus.Counter
	Sends          *prometheus.CounterVec
	Receipts       *prometheus.CounterVec
	Resubscribes   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcore",
			Name:      "conversation_events_total",
			Help:      "Store events consumed by conversation workers, by kind.",
		}, []string{"kind"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatcore",
			Name:      "duplicate_events_total",
			Help:      "Added events ignored because the message was already known.",
		}),
		BlockedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatcore",
			Name:      "blocked_events_total",
			Help:      "Inbound messages dropped because of a block.",
		}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcore",
			Name:      "sends_total",
			Help:      "Send attempts, by result.",
		}, []string{"result"}),
		Receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcore",
			Name:      "receipts_total",
			Help:      "Receipt transitions written, by kind.",
		}, []string{"kind"}),
		Resubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatcore",
			Name:      "resubscribes_total",
			Help:      "Message subscriptions re-established after a failure.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Events, m.Duplicates, m.BlockedDropped, m.Sends, m.Receipts, m.Resubscribes)
	}
	return m
}

// NopMetrics returns unregistered counters, for callers that do not export metrics.
func NopMetrics() *Metrics {
	return NewMetrics(nil)
}
