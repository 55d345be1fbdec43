package mpesa

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_requests_total",
			Help: "Outbound requests to the M-Pesa API by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	providerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mpesa_request_duration_ms",
			Help:    "Duration of outbound M-Pesa requests in ms",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"op"},
	)
)

func observe(op, outcome string, start time.Time) {
	providerRequests.WithLabelValues(op, outcome).Inc()
	providerDuration.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
}

func outcomeFor(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "ok"
	case status >= 400 && status < 500:
		return "client_error"
	default:
		return "server_error"
	}
}

func parseSeconds(s string, fallback int) time.Duration {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}
