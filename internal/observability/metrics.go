package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activitiesPersistedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bikeapp",
		Subsystem: "persistence",
		Name:      "activities_persisted_total",
		Help:      "Number of activities written to Postgres.",
	})
	persistWatermarkGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bikeapp",
		Subsystem: "persistence",
		Name:      "last_persist_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity batch persisted.",
	})
)

func init() {
	prometheus.MustRegister(activitiesPersistedCounter, persistWatermarkGauge)
}

// RecordActivitiesPersisted updates the persistence counters after a batch
// commit.
func RecordActivitiesPersisted(count int) {
	if count <= 0 {
		return
	}
	activitiesPersistedCounter.Add(float64(count))
	persistWatermarkGauge.Set(float64(time.Now().Unix()))
}
