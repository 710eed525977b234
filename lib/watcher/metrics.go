package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "releasewatch_ticks_total",
		Help: "Poll ticks run, by source kind.",
	}, []string{"kind"})

	streamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "releasewatch_stream_errors_total",
		Help: "Per-stream tick failures, by source kind and pipeline stage.",
	}, []string{"kind", "stage"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "releasewatch_notifications_total",
		Help: "Notification send attempts, by source kind and result.",
	}, []string{"kind", "result"})

	seenItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "releasewatch_seen_items",
		Help: "Item ids recorded as announced, by source kind.",
	}, []string{"kind"})
)

// TickMetrics summarizes one tick of a group.
type TickMetrics struct {
	Streams    int `json:"streams"`
	Updated    int `json:"updated"`
	Unchanged  int `json:"unchanged"`
	Errored    int `json:"errored"`
	Dispatched int `json:"dispatched"`
}

func (m *TickMetrics) Add(other *TickMetrics) {
	m.Streams += other.Streams
	m.Updated += other.Updated
	m.Unchanged += other.Unchanged
	m.Errored += other.Errored
	m.Dispatched += other.Dispatched
}
