package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LockAcquisitions counts lock attempts by outcome: acquired, timeout,
	// error or invalid.
	LockAcquisitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_lock_acquisitions_total",
		Help: "Total number of lock acquisition attempts by result",
	}, []string{"result"})
	// LockWaitSeconds observes how long callers waited for a lock.
	LockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "warden_lock_wait_seconds",
		Help:    "Time spent waiting to acquire a lock",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	})
	// LockHoldSeconds observes how long critical sections held a lock.
	LockHoldSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "warden_lock_hold_seconds",
		Help:    "Time spent executing work while holding a lock",
		Buckets: prometheus.DefBuckets,
	})
	// WorkFailures counts protected operations that failed, by error code.
	WorkFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_lock_work_failures_total",
		Help: "Total number of failed operations executed under a lock",
	}, []string{"code"})
	// SessionsIssued counts issued session tokens.
	SessionsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_sessions_issued_total",
		Help: "Total number of issued sessions",
	})
	// SessionsKicked counts sessions revoked by a newer login.
	SessionsKicked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_sessions_kicked_total",
		Help: "Total number of sessions revoked by a newer login",
	})
	// Logouts counts explicit logouts.
	Logouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_logouts_total",
		Help: "Total number of explicit logouts",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterMetrics registers every warden collector on the provided registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		LockAcquisitions,
		LockWaitSeconds,
		LockHoldSeconds,
		WorkFailures,
		SessionsIssued,
		SessionsKicked,
		Logouts,
	)
}
