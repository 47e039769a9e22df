package telemetry

import "github.com/prometheus/client_golang/prometheus"

var ChallengesAssignedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "challengectl",
		Subsystem: "scheduler",
		Name:      "challenges_assigned_total",
		Help:      "Total number of challenges handed out to runners.",
	},
	[]string{"runner_id"},
)

var ChallengesCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "challengectl",
		Subsystem: "scheduler",
		Name:      "challenges_completed_total",
		Help:      "Total number of completed challenge transmissions by outcome.",
	},
	[]string{"success"},
)

var StaleAssignmentsReapedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "challengectl",
		Subsystem: "scheduler",
		Name:      "stale_assignments_reaped_total",
		Help:      "Total number of assignments reclaimed by the stale-assignment reaper.",
	},
)

var AgentsWentOfflineTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "challengectl",
		Subsystem: "agents",
		Name:      "went_offline_total",
		Help:      "Total number of agents flipped offline by the heartbeat reaper.",
	},
)

var LoginAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "challengectl",
		Subsystem: "auth",
		Name:      "login_attempts_total",
		Help:      "Total number of login attempts by outcome.",
	},
	[]string{"outcome"},
)

var TOTPReplayRejectedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "challengectl",
		Subsystem: "auth",
		Name:      "totp_replay_rejected_total",
		Help:      "Total number of TOTP codes rejected as replays.",
	},
)

var HostBindingRejectedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "challengectl",
		Subsystem: "agents",
		Name:      "host_binding_rejected_total",
		Help:      "Total number of agent requests rejected by host-binding enforcement.",
	},
)

var RecordingsAssignedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "challengectl",
		Subsystem: "assignment",
		Name:      "recordings_assigned_total",
		Help:      "Total number of recording assignments pushed to listeners.",
	},
)

// All returns every challengectl-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ChallengesAssignedTotal,
		ChallengesCompletedTotal,
		StaleAssignmentsReapedTotal,
		AgentsWentOfflineTotal,
		LoginAttemptsTotal,
		TOTPReplayRejectedTotal,
		HostBindingRejectedTotal,
		RecordingsAssignedTotal,
	}
}
