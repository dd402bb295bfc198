// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Command pipeline metrics
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelcore_commands_total",
		Help: "Commands processed by kind and outcome",
	}, []string{"kind", "outcome"}) // outcome=applied|rejected|failed

	undoTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelcore_undo_redo_total",
		Help: "Undo and redo operations by direction",
	}, []string{"direction"}) // direction=undo|redo

	opsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelcore_ops_appended_total",
		Help: "Operations durably appended to the operation log",
	})

	opsAppendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelcore_ops_append_errors_total",
		Help: "Operation log append failures",
	})

	snapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelcore_snapshots_written_total",
		Help: "Project snapshots durably written",
	})

	// Workspace metrics
	watcherEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelcore_watcher_events_total",
		Help: "Debounced workspace watcher events by kind",
	}, []string{"kind"}) // kind=added|modified|removed

	scannedFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelcore_workspace_files",
		Help: "Files known to the workspace index after the last scan",
	})

	// Worker pool metrics
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelcore_jobs_total",
		Help: "Worker jobs by type and terminal status",
	}, []string{"type", "status"}) // status=completed|failed|cancelled

	jobsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelcore_jobs_queued",
		Help: "Jobs currently waiting in the priority queue",
	})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelcore_jobs_running",
		Help: "Jobs currently executing",
	})
)

// IncCommand records one command pipeline outcome.
func IncCommand(kind, outcome string) {
	commandsTotal.WithLabelValues(kind, outcome).Inc()
}

// IncUndoRedo records an undo or redo.
func IncUndoRedo(direction string) {
	undoTotal.WithLabelValues(direction).Inc()
}

// IncOpAppended records a durable log append.
func IncOpAppended() { opsAppended.Inc() }

// IncOpAppendError records a failed log append.
func IncOpAppendError() { opsAppendErrors.Inc() }

// IncSnapshotWritten records a durable snapshot.
func IncSnapshotWritten() { snapshotsWritten.Inc() }

// IncWatcherEvent records one debounced watcher event.
func IncWatcherEvent(kind string) {
	watcherEvents.WithLabelValues(kind).Inc()
}

// SetWorkspaceFiles records the index size after a scan.
func SetWorkspaceFiles(n int) {
	scannedFiles.Set(float64(n))
}

// IncJob records a job reaching a terminal status.
func IncJob(jobType, status string) {
	jobsTotal.WithLabelValues(jobType, status).Inc()
}

// SetJobsQueued updates the queued-jobs gauge.
func SetJobsQueued(n int) { jobsQueued.Set(float64(n)) }

// SetJobsRunning updates the running-jobs gauge.
func SetJobsRunning(n int) { jobsRunning.Set(float64(n)) }
