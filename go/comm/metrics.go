package comm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var entitiesSent = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pubscraper_entities_sent_total",
	Help: "counter of entity documents delivered to the aggregator",
})

var sendErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pubscraper_send_errors_total",
	Help: "counter of entity deliveries that failed",
})

var recoveredDocs = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pubscraper_recovered_docs_total",
	Help: "counter of undelivered documents shipped by the recovery pass",
})
