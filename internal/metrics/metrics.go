// Package metrics provides Prometheus metrics for bucketsyncd.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cycle metrics
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketsyncd_cycles_total",
			Help: "Total number of integration cycles",
		},
		[]string{"status"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bucketsyncd_cycle_duration_seconds",
			Help:    "Integration cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	lastSuccessfulCycle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bucketsyncd_last_successful_cycle_timestamp_seconds",
			Help: "Unix time of the last successful integration cycle",
		},
	)

	// Reconciliation metrics
	changesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketsyncd_changes_detected_total",
			Help: "Total changes detected, by kind",
		},
		[]string{"kind"},
	)

	listedEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bucketsyncd_listed_entries",
			Help: "Number of entries in the most recent listing, by side",
		},
		[]string{"side"},
	)

	// Apply metrics
	filesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketsyncd_files_written_total",
			Help: "Total files downloaded into the working directory",
		},
	)

	filesDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketsyncd_files_deleted_total",
			Help: "Total files deleted from the working directory",
		},
	)

	dirsRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketsyncd_dirs_removed_total",
			Help: "Total empty directories removed from the working directory",
		},
	)

	bytesDownloadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketsyncd_bytes_downloaded_total",
			Help: "Total bytes downloaded from the object store",
		},
	)

	// Webhook metrics
	webhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketsyncd_webhook_requests_total",
			Help: "Total webhook requests",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCycle records the outcome and duration of an integration cycle.
func RecordCycle(duration time.Duration, success bool) {
	cycleDuration.Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	cyclesTotal.WithLabelValues(status).Inc()
	if success {
		lastSuccessfulCycle.SetToCurrentTime()
	}
}

// RecordChanges records the number of detected changes per kind.
func RecordChanges(created, updated, deleted int) {
	changesDetectedTotal.WithLabelValues("created").Add(float64(created))
	changesDetectedTotal.WithLabelValues("updated").Add(float64(updated))
	changesDetectedTotal.WithLabelValues("deleted").Add(float64(deleted))
}

// SetListedEntries sets the size of the latest remote and local listings.
func SetListedEntries(remote, local int) {
	listedEntries.WithLabelValues("remote").Set(float64(remote))
	listedEntries.WithLabelValues("local").Set(float64(local))
}

// RecordApply records what an apply pass did.
func RecordApply(written, deleted, dirsRemoved int, bytes int64) {
	filesWrittenTotal.Add(float64(written))
	filesDeletedTotal.Add(float64(deleted))
	dirsRemovedTotal.Add(float64(dirsRemoved))
	bytesDownloadedTotal.Add(float64(bytes))
}

// RecordWebhookRequest records a webhook request by response status.
func RecordWebhookRequest(status int) {
	webhookRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}
