package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	signInAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fittrack",
		Subsystem: "session",
		Name:      "sign_in_attempts_total",
		Help:      "Sign-in strategy attempts by strategy and outcome.",
	}, []string{"strategy", "outcome"})
	signOuts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fittrack",
		Subsystem: "session",
		Name:      "sign_outs_total",
		Help:      "Sign-outs by outcome.",
	}, []string{"outcome"})
	reconciliations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fittrack",
		Subsystem: "session",
		Name:      "profile_reconciliations_total",
		Help:      "Profile reconciliations by result: existing, created or unpersisted.",
	}, []string{"result"})
	activeManagers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fittrack",
		Subsystem: "session",
		Name:      "active_managers",
		Help:      "Session managers currently held by the registry.",
	})
	queryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fittrack",
		Subsystem: "docstore",
		Name:      "query_errors_total",
		Help:      "Live query failures delivered to subscribers, by collection.",
	}, []string{"collection"})
	httpRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fittrack",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method, route pattern and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(signInAttempts, signOuts, reconciliations, activeManagers, queryErrors, httpRequests)
}

// RecordSignInAttempt counts one strategy attempt of a sign-in.
func RecordSignInAttempt(strategy, outcome string) {
	signInAttempts.WithLabelValues(strategy, outcome).Inc()
}

// RecordSignOut counts a sign-out.
func RecordSignOut(outcome string) {
	signOuts.WithLabelValues(outcome).Inc()
}

// RecordReconciliation counts a profile reconciliation.
func RecordReconciliation(result string) {
	reconciliations.WithLabelValues(result).Inc()
}

// SetActiveManagers sets the number of live session managers.
func SetActiveManagers(n int) {
	activeManagers.Set(float64(n))
}

// RecordQueryError counts a failed live query.
func RecordQueryError(collection string) {
	queryErrors.WithLabelValues(collection).Inc()
}

// ObserveHTTPRequest records one served request. Event streams are observed when
// they end.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
