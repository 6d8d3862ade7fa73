package acquisition

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gemmad",
			Subsystem: "acquisition",
			Name:      "attempts_total",
			Help:      "Acquisition attempts by outcome and source",
		},
		[]string{"outcome", "source"},
	)

	downloadPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gemmad",
			Subsystem: "acquisition",
			Name:      "download_percent",
			Help:      "Last reported download progress of the model pack",
		},
	)

	readyGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gemmad",
			Subsystem: "acquisition",
			Name:      "ready",
			Help:      "1 when the engine handle is loaded",
		},
	)

	asksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gemmad",
			Subsystem: "ask",
			Name:      "total",
			Help:      "Asks by outcome",
		},
		[]string{"outcome"},
	)

	askDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gemmad",
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Time from admission to result for successful asks",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gemmad",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber was slow",
		},
	)
)

func init() {
	prometheus.MustRegister(attemptsTotal, downloadPercent, readyGauge, asksTotal, askDuration, eventsDropped)
}
