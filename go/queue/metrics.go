package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var depthDrops = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pubscraper_queue_depth_drops_total",
	Help: "counter of messages dropped because their depth exceeded the depth cap",
})

var agingPasses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pubscraper_queue_aging_passes_total",
	Help: "counter of aging passes applied to the system and process heaps",
})
