// Package metrics declares the Prometheus collectors for the membership engine
// and its background worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transition metrics
var (
	// MembershipTransitionsTotal counts engine operations by result:
	// changed, noop, rejected (domain error) or failed (store error).
	MembershipTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_transitions_total",
			Help: "Total membership transitions by operation and result",
		},
		[]string{"op", "result"},
	)

	// MembershipTransitionDuration tracks end-to-end operation latency,
	// including lock wait.
	MembershipTransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "membership_transition_duration_seconds",
			Help:    "Membership transition duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"op"},
	)

	// MembershipLockWait tracks time spent acquiring pair and quorum locks.
	MembershipLockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "membership_lock_wait_seconds",
			Help:    "Time spent waiting for membership locks",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"scope"},
	)

	// MembershipQuorumRejections counts transitions refused to keep an admin.
	MembershipQuorumRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_quorum_rejections_total",
			Help: "Transitions rejected because the group would lose its last admin",
		},
		[]string{"op"},
	)

	// MembershipAdminSuccessions counts replacement admins promoted when a
	// sole admin is removed, and groups left without one.
	MembershipAdminSuccessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_admin_successions_total",
			Help: "Admin successions during user removal by outcome",
		},
		[]string{"outcome"},
	)

	// MembershipEventsPublished counts transition events handed to the
	// notification dispatcher.
	MembershipEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_events_published_total",
			Help: "Transition events published by result",
		},
		[]string{"op", "result"},
	)
)

// Worker metrics
var (
	// JobsProcessedTotal counts background tasks by type and status.
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_jobs_processed_total",
			Help: "Background jobs processed by task type and status",
		},
		[]string{"task", "status"},
	)

	// StaleDraftsPurged counts draft invites removed by scheduled cleanup.
	StaleDraftsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "membership_stale_drafts_purged_total",
			Help: "Draft invites deleted by scheduled cleanup",
		},
	)

	// SchedulerRuns counts cron-triggered enqueues by job and status.
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_scheduler_runs_total",
			Help: "Scheduled job runs by job name and status",
		},
		[]string{"job", "status"},
	)
)
