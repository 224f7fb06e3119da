package serving

import "github.com/prometheus/client_golang/prometheus"

var (
	resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "serving",
			Name:      "results_total",
			Help:      "Chat completion results by kind (error, buffered, streamed)",
		},
		[]string{"kind"},
	)

	streamFramesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "serving",
			Name:      "stream_frames_total",
			Help:      "Total event-stream frames produced",
		},
	)
)

func init() {
	prometheus.MustRegister(resultsTotal, streamFramesTotal)
}
