package deployment

import "github.com/prometheus/client_golang/prometheus"

var (
	buildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "deployment",
			Name:      "builds_total",
			Help:      "Serving facade builds by result",
		},
		[]string{"result"},
	)

	facadeReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatd",
			Subsystem: "deployment",
			Name:      "ready",
			Help:      "1 once the serving facade is ready",
		},
	)
)

func init() {
	prometheus.MustRegister(buildsTotal, facadeReady)
}
