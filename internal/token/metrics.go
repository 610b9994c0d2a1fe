package token

import "github.com/prometheus/client_golang/prometheus"

var refreshCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "bikeapp",
	Subsystem: "token",
	Name:      "refreshes_total",
	Help:      "Number of successful credential refreshes.",
})

func init() {
	prometheus.MustRegister(refreshCounter)
}

func observeRefresh() {
	refreshCounter.Inc()
}
