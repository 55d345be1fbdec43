package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	initiations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_initiations_total",
			Help: "STK push initiations by outcome",
		},
		[]string{"outcome"},
	)

	callbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_callbacks_total",
			Help: "Provider callbacks by reconciliation outcome",
		},
		[]string{"outcome"},
	)
)
