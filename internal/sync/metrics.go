package sync

import "github.com/prometheus/client_golang/prometheus"

var (
	pagesFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bikeapp",
		Subsystem: "sync",
		Name:      "pages_fetched_total",
		Help:      "Number of activity listing pages fetched from the provider.",
	})
	activitiesInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bikeapp",
		Subsystem: "sync",
		Name:      "activities_inserted_total",
		Help:      "Number of new activities persisted by sync runs.",
	})
	activitiesEnriched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bikeapp",
		Subsystem: "sync",
		Name:      "activities_enriched_total",
		Help:      "Number of activities enriched with full detail and streams.",
	})
)

func init() {
	prometheus.MustRegister(pagesFetched, activitiesInserted, activitiesEnriched)
}

func observePage() {
	pagesFetched.Inc()
}

func observeInserted(n int) {
	activitiesInserted.Add(float64(n))
}

func observeEnriched() {
	activitiesEnriched.Inc()
}
