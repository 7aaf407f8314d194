package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadedModels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "locallm",
			Name:      "loaded_models",
			Help:      "Models currently tracked as resident in the runtime.",
		},
	)
	loadedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "locallm",
			Name:      "loaded_bytes",
			Help:      "Summed memory estimates of resident models.",
		},
	)
	loadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "locallm",
			Name:      "loads_total",
			Help:      "Successful model loads into the runtime.",
		},
	)
	evictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "locallm",
			Name:      "evictions_total",
			Help:      "Models evicted to make room for a load.",
		},
	)
)

func init() {
	prometheus.MustRegister(loadedModels, loadedBytes, loadsTotal, evictionsTotal)
}
