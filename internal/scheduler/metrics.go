package scheduler

import "github.com/prometheus/client_golang/prometheus"

var tasksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "bikeapp",
	Subsystem: "scheduler",
	Name:      "tasks_processed_total",
	Help:      "Number of deferred tasks processed to completion.",
})

func init() {
	prometheus.MustRegister(tasksProcessed)
}

func observeTasks(n int) {
	tasksProcessed.Add(float64(n))
}
