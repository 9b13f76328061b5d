package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandworm_api_requests_total",
			Help: "Total number of requests sent to the execution API.",
		},
		[]string{"method", "route", "status"},
	)

	apiRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandworm_api_request_duration_seconds",
			Help:    "Execution API request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	statusPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandworm_status_polls_total",
			Help: "Status polls by the state they observed.",
		},
		[]string{"state"},
	)

	waitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandworm_waits_total",
			Help: "Finished wait loops by outcome.",
		},
		[]string{"outcome"},
	)

	waitDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandworm_wait_duration_seconds",
			Help:    "Time from the start of a wait loop to its outcome.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)
)

func init() {
	prometheus.MustRegister(
		apiRequestsTotal,
		apiRequestDurationSeconds,
		statusPollsTotal,
		waitsTotal,
		waitDurationSeconds,
	)
}

// WriteMetrics dumps every sandworm_* family of the default registry in the
// text exposition format.
func WriteMetrics(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, family := range families {
		if !strings.HasPrefix(family.GetName(), "sandworm_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return fmt.Errorf("write metric %s: %w", family.GetName(), err)
		}
	}
	return nil
}

func observeWaitDuration(elapsed time.Duration) {
	waitDurationSeconds.Observe(elapsed.Seconds())
}
