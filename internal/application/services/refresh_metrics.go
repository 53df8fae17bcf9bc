package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess = "success"
	resultError   = "error"
	resultEmpty   = "empty"
)

var (
	refreshCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsync_refresh_cycles_total",
			Help: "Total number of completed refresh cycles",
		},
		[]string{"kind", "result"},
	)

	refreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletsync_refresh_duration_seconds",
			Help:    "Time taken by a refresh cycle",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)
)
