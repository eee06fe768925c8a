package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// License server round-trips
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wplicense_api_requests_total",
			Help: "Total number of license server requests by action and outcome",
		},
		[]string{"action", "outcome"}, // outcome: ok or an error kind
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wplicense_api_request_duration_seconds",
			Help:    "License server request latency by action",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"action"},
	)

	// Reconciliation workflow
	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wplicense_reconciliations_total",
			Help: "Total number of license reconciliations by dispatched action and result status",
		},
		[]string{"action", "status"},
	)

	// Update eligibility checks
	UpdateChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wplicense_update_checks_total",
			Help: "Total number of update eligibility checks by outcome",
		},
		[]string{"outcome"},
	)

	// Admin endpoint
	AdminRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wplicense_admin_requests_total",
			Help: "Total number of admin endpoint requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	AdminRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wplicense_admin_request_duration_seconds",
			Help:    "Admin endpoint latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Product inventory
	InventoryScansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wplicense_inventory_scans_total",
			Help: "Total number of product inventory scans (cache misses)",
		},
	)

	InventoryProducts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wplicense_inventory_products",
			Help: "Number of managed products found by the last inventory scan",
		},
	)
)

// RecordAPIRequest records the outcome and latency of one license server call.
func RecordAPIRequest(action, outcome string, elapsed time.Duration) {
	APIRequestsTotal.WithLabelValues(action, outcome).Inc()
	APIRequestDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// RecordReconciliation counts one reconciliation workflow run.
func RecordReconciliation(action, status string) {
	ReconciliationsTotal.WithLabelValues(action, status).Inc()
}

// RecordUpdateCheck counts one update eligibility check.
func RecordUpdateCheck(outcome string) {
	UpdateChecksTotal.WithLabelValues(outcome).Inc()
}

// RecordAdminRequest records one admin endpoint request.
func RecordAdminRequest(method, route string, status int, elapsed time.Duration) {
	AdminRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	AdminRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RecordInventoryScan counts a scan and publishes the product count.
func RecordInventoryScan(products int) {
	InventoryScansTotal.Inc()
	InventoryProducts.Set(float64(products))
}
