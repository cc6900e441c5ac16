package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lavra_realtime_connections",
		Help: "Realtime connections open on this instance",
	})

	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lavra_realtime_events_total",
		Help: "Realtime frames by event and outcome (delivered, dropped, error)",
	}, []string{"event", "outcome"})
)
