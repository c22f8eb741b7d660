package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_submitted_total",
		Help: "Total number of sales submitted for inventory",
	})

	SalesReservedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_reserved_total",
		Help: "Total number of sales fully reserved",
	})

	SalesRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_rejected_total",
		Help: "Total number of sales rejected",
	})

	SalesCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_cancelled_total",
		Help: "Total number of sales cancelled",
	})

	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Total number of pending reservations created",
	})

	ReservationTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_transitions_total",
		Help: "Total number of reservation status transitions",
	}, []string{"target"})

	AllocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_allocations_total",
		Help: "Total number of successful FIFO allocations",
	})

	AllocationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_allocations_failed_total",
		Help: "Total number of failed allocations",
	}, []string{"reason"})

	AllocationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_allocation_latency_seconds",
		Help:    "Latency of FIFO allocation operations",
		Buckets: prometheus.DefBuckets,
	})

	MovementsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_movements_recorded_total",
		Help: "Total number of stock movement records written",
	})

	ExpiredReservationsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expired_reservations_swept_total",
		Help: "Total number of expired pending reservations cancelled by the sweeper",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
