package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lock server request latency - histogram to track p50/p90/p99
	// one store round trip plus at most one write per request
	// labels: method (GET/POST/PUT)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "elector_request_duration_seconds",
			Help:    "time taken to serve a lock request",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to 512ms
		},
		[]string{"method"},
	)

	// lock server request counter by response status
	// labels: method, code (200/404/409/...)
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elector_requests_total",
			Help: "total number of lock requests served",
		},
		[]string{"method", "code"},
	)

	// outcome of the renew-or-takeover decision
	// labels: decision (create/renew/takeover/heartbeat/reject)
	// a high takeover rate means holders are failing to renew in time
	LeaseDecisionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elector_lease_decisions_total",
			Help: "total number of lease decisions by kind",
		},
		[]string{"decision"},
	)

	// client acquire attempts
	// labels: lock_name, outcome (acquired/held/error)
	AcquireAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elector_acquire_attempts_total",
			Help: "total number of lock acquisition attempts",
		},
		[]string{"lock_name", "outcome"},
	)

	// leadership held by this process - 1 if held, 0 otherwise
	// exactly one process per lock should have this = 1
	Leader = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "elector_leader",
			Help: "whether this process holds the lock (1 = held, 0 = not held)",
		},
		[]string{"lock_name"},
	)

	// leases lost by a holder, after release or failed renewal
	LeaseLostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elector_lease_lost_total",
			Help: "total number of held leases lost",
		},
		[]string{"lock_name"},
	)

	// renewals skipped by fault injection
	FaultsInjectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elector_faults_injected_total",
			Help: "total number of renewal rounds skipped by fault injection",
		},
		[]string{"lock_name"},
	)

	// raft leader status - 1 if this node is leader, 0 if follower
	// exactly one node in cluster should have this = 1
	RaftIsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "elector_raft_is_leader",
			Help: "whether this node is the raft leader (1 = leader, 0 = follower)",
		},
	)

	// service uptime - always 1 when running
	// prometheus uses this to detect service restarts
	Up = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "elector_up",
			Help: "whether the service is up (always 1 when running)",
		},
	)
)

func init() {
	// set uptime gauge to 1 on startup
	Up.Set(1)
}
