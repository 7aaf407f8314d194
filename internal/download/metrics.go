package download

import "github.com/prometheus/client_golang/prometheus"

var (
	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "locallm",
			Name:      "downloads_total",
			Help:      "Download jobs by terminal outcome.",
		},
		[]string{"outcome"},
	)
	activeDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "locallm",
			Name:      "active_downloads",
			Help:      "Download workers currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(downloadsTotal, activeDownloads)
}
