// Package metrics exposes Prometheus counters for study operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts sessions created at study entry.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repchat_sessions_started_total",
		Help: "Participant sessions created at study entry.",
	})

	// ConditionsAssigned counts allocator assignments by cell.
	ConditionsAssigned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repchat_conditions_assigned_total",
		Help: "Condition assignments by condition and subtype.",
	}, []string{"condition", "subtype"})

	// RoundsCompleted counts chat rounds that reached termination.
	RoundsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repchat_rounds_completed_total",
		Help: "Chat rounds that reached their termination condition.",
	}, []string{"round"})

	// StudyFullTurnaways counts participants turned away at the global gate.
	StudyFullTurnaways = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repchat_study_full_turnaways_total",
		Help: "Entry attempts rejected because every quota cell is at capacity.",
	})

	// QuotaExhaustedRedirects counts participants redirected out after
	// the pre-survey because their subtype had no open condition.
	QuotaExhaustedRedirects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repchat_quota_exhausted_redirects_total",
		Help: "Participants redirected out because no condition had capacity for their subtype.",
	})

	// ResponderFailures counts persona or support agent call failures.
	ResponderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repchat_responder_failures_total",
		Help: "External responder call failures by capability.",
	}, []string{"capability"})
)
