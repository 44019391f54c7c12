package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	StreakEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_evaluations_total",
			Help: "Streak evaluations by path and outcome",
		},
		[]string{"path", "outcome"},
	)
	StreakResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streak_resets_total",
			Help: "Active streaks reset after a missed day",
		},
	)
	StreakRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_recoveries_total",
			Help: "Completed streak recoveries by price tier",
		},
		[]string{"tier"},
	)
	RecoveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_recovery_failures_total",
			Help: "Failed streak recoveries by error code",
		},
		[]string{"code"},
	)
	CoresSpent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streak_recovery_cores_spent_total",
			Help: "Cores transferred for streak recoveries",
		},
	)
)

// Register adds the streak metrics to reg. Call once from the serve command.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(StreakEvaluations, StreakResets, StreakRecoveries, RecoveryFailures, CoresSpent)
}
