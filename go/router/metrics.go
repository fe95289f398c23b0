package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dupDrops = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pubscraper_router_duplicate_drops_total",
	Help: "counter of process messages dropped by the duplicate tracker",
})

var worktimeDrops = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pubscraper_router_worktime_drops_total",
	Help: "counter of scrape messages dropped after the worktime cap expired",
})

var processed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pubscraper_router_processed_total",
	Help: "counter of messages processed successfully, by destination queue",
}, []string{"queue"})

var retriesBurned = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pubscraper_router_retries_total",
	Help: "counter of retries consumed by failing messages, by destination queue",
}, []string{"queue"})
