package delivery

import "github.com/prometheus/client_golang/prometheus"

var (
	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gemmad",
			Subsystem: "delivery",
			Name:      "fetch_total",
			Help:      "Pack fetches by terminal status and error code",
		},
		[]string{"status", "code"},
	)

	downloadedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gemmad",
			Subsystem: "delivery",
			Name:      "downloaded_bytes_total",
			Help:      "Bytes downloaded for asset packs",
		},
	)

	sideloadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gemmad",
			Subsystem: "delivery",
			Name:      "sideload_total",
			Help:      "Packs detected as installed by another process",
		},
	)
)

func init() {
	prometheus.MustRegister(fetchTotal, downloadedBytes, sideloadTotal)
}
