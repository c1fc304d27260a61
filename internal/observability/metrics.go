package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hail", Name: "rides_created_total", Help: "Rides created"})
	RidesAccepted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hail", Name: "rides_accepted_total", Help: "Rides accepted by a driver"})
	RidesCompleted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hail", Name: "rides_completed_total", Help: "Rides completed"})
	RidesCancelled  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "ride_hail", Name: "rides_cancelled_total", Help: "Rides cancelled"}, []string{"reason"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hail", Name: "accept_conflicts_total", Help: "Accept attempts that lost the race"})
	OTPFailures     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hail", Name: "otp_failures_total", Help: "OTP verification mismatches"})

	DriversOnline     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_hail", Name: "drivers_online", Help: "Drivers currently online"})
	SyncEventsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_hail", Name: "sync_events_dropped_total", Help: "Change events dropped for slow subscribers"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_hail", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_hail",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
