package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codesync",
		Name:      "active_connections",
		Help:      "Current number of live websocket connections",
	})

	JoinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codesync",
		Name:      "joins_total",
		Help:      "Total number of accepted room joins",
	})

	JoinRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codesync",
		Name:      "join_rejections_total",
		Help:      "Total number of joins rejected for a duplicate username",
	})

	EventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesync",
		Name:      "events_relayed_total",
		Help:      "Total number of events forwarded to room peers, by kind",
	}, []string{"kind"})

	StoreFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codesync",
		Name:      "store_failures_total",
		Help:      "Total number of session store operations that failed",
	})
)
