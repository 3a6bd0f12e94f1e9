package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telehealth",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events fanned out to subscribers, by kind.",
	}, []string{"kind"})

	activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "telehealth",
		Subsystem: "events",
		Name:      "active_subscriptions",
		Help:      "Currently attached event stream subscriptions.",
	})

	subscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "telehealth",
		Subsystem: "events",
		Name:      "subscribers_dropped_total",
		Help:      "Subscriptions closed because their buffer filled up.",
	})
)
