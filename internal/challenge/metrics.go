package challenge

import "github.com/prometheus/client_golang/prometheus"

var (
	recomputes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bikeapp",
		Subsystem: "challenge",
		Name:      "recomputes_total",
		Help:      "Number of full challenge recompute passes.",
	})
	completions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bikeapp",
		Subsystem: "challenge",
		Name:      "completions_total",
		Help:      "Number of challenge completion transitions.",
	})
)

func init() {
	prometheus.MustRegister(recomputes, completions)
}

func observeRecompute() {
	recomputes.Inc()
}

func observeCompletion() {
	completions.Inc()
}
