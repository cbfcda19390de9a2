package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	AnalyticsLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tam",
			Subsystem: "analytics",
			Name:      "latency_seconds",
			Help:      "Latency of remote analytics calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	AnalyticsErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tam",
			Subsystem: "analytics",
			Name:      "errors_total",
			Help:      "Failed remote analytics calls by endpoint",
		},
		[]string{"endpoint"},
	)

	RegimeAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tam",
			Subsystem: "regime",
			Name:      "age_seconds",
			Help:      "Seconds since the regime label of a symbol was refreshed",
		},
		[]string{"symbol"},
	)
)

// Register adds the analytics collectors to reg once per process.
func Register(reg prometheus.Registerer) {
	once.Do(func() {
		reg.MustRegister(AnalyticsLatency, AnalyticsErrors, RegimeAge)
	})
}

// ObserveCall records one remote call.
func ObserveCall(endpoint string, start time.Time, err error) {
	AnalyticsLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		AnalyticsErrors.WithLabelValues(endpoint).Inc()
	}
}
