package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the abuse engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ChecksTotal              *prometheus.CounterVec
	CheckDurationSeconds     prometheus.Histogram
	ScoreIncrementsTotal     *prometheus.CounterVec
	WarningsTotal            prometheus.Counter
	PenaltiesAppliedTotal    *prometheus.CounterVec
	PenaltiesLiftedTotal     prometheus.Counter
	RequestsBlockedTotal     *prometheus.CounterVec
	LockTimeoutsTotal        prometheus.Counter
	TrackedPrincipals        prometheus.Gauge
	ActivePenalties          prometheus.Gauge
	SettingsRefreshFailures  prometheus.Counter
	CircuitState             *prometheus.GaugeVec
	CleanupRunsTotal         *prometheus.CounterVec
	CleanupDurationSeconds   prometheus.Histogram
	CleanupPenaltiesSwept    prometheus.Counter
	CleanupWindowsSweptTotal prometheus.Counter
}

// New registers the collectors with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChecksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_abuse_checks_total",
			Help: "Total number of anti-abuse checks by outcome",
		}, []string{"outcome"}),
		CheckDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_abuse_check_duration_seconds",
			Help:    "Latency of the anti-abuse check on the request path",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
		ScoreIncrementsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_abuse_score_increments_total",
			Help: "Total number of abuse score increases by reason",
		}, []string{"reason"}),
		WarningsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_abuse_warnings_total",
			Help: "Total number of principals crossing the warning threshold",
		}),
		PenaltiesAppliedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_abuse_penalties_applied_total",
			Help: "Total number of penalties applied by type",
		}, []string{"type"}),
		PenaltiesLiftedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_abuse_penalties_lifted_total",
			Help: "Total number of penalties lifted by an admin",
		}),
		RequestsBlockedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_abuse_requests_blocked_total",
			Help: "Total number of relayed requests rejected by penalty type",
		}, []string{"type"}),
		LockTimeoutsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_abuse_lock_timeouts_total",
			Help: "Total number of per-principal lock timeouts that failed open",
		}),
		TrackedPrincipals: f.NewGauge(prometheus.GaugeOpts{
			Name: "warden_abuse_tracked_principals",
			Help: "Current number of principals held in scorer memory",
		}),
		ActivePenalties: f.NewGauge(prometheus.GaugeOpts{
			Name: "warden_abuse_active_penalties",
			Help: "Current number of active penalties",
		}),
		SettingsRefreshFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_security_settings_refresh_failures_total",
			Help: "Total number of failed security settings reloads",
		}),
		CircuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_circuit_open",
			Help: "1 when the named circuit breaker is open",
		}, []string{"name"}),
		CleanupRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_abuse_cleanup_runs_total",
			Help: "Total number of cleanup runs",
		}, []string{"status"}),
		CleanupDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name: "warden_abuse_cleanup_duration_seconds",
			Help: "Duration of cleanup runs in seconds",
		}),
		CleanupPenaltiesSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_abuse_cleanup_penalties_swept_total",
			Help: "Total number of expired or lifted penalties removed from the active index",
		}),
		CleanupWindowsSweptTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_abuse_cleanup_windows_swept_total",
			Help: "Total number of idle window counters dropped",
		}),
	}
}

func (m *Metrics) IncrementCheck(outcome string) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCheckDuration(seconds float64) {
	if m == nil {
		return
	}
	m.CheckDurationSeconds.Observe(seconds)
}

func (m *Metrics) IncrementScore(reason string) {
	if m == nil {
		return
	}
	m.ScoreIncrementsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementWarnings() {
	if m == nil {
		return
	}
	m.WarningsTotal.Inc()
}

func (m *Metrics) IncrementPenaltyApplied(penaltyType string) {
	if m == nil {
		return
	}
	m.PenaltiesAppliedTotal.WithLabelValues(penaltyType).Inc()
}

func (m *Metrics) IncrementPenaltyLifted() {
	if m == nil {
		return
	}
	m.PenaltiesLiftedTotal.Inc()
}

func (m *Metrics) IncrementBlocked(penaltyType string) {
	if m == nil {
		return
	}
	m.RequestsBlockedTotal.WithLabelValues(penaltyType).Inc()
}

func (m *Metrics) IncrementLockTimeouts() {
	if m == nil {
		return
	}
	m.LockTimeoutsTotal.Inc()
}

func (m *Metrics) SetTrackedPrincipals(n int) {
	if m == nil {
		return
	}
	m.TrackedPrincipals.Set(float64(n))
}

func (m *Metrics) SetActivePenalties(n int) {
	if m == nil {
		return
	}
	m.ActivePenalties.Set(float64(n))
}

func (m *Metrics) IncrementSettingsRefreshFailures() {
	if m == nil {
		return
	}
	m.SettingsRefreshFailures.Inc()
}

func (m *Metrics) SetCircuitOpen(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitState.WithLabelValues(name).Set(v)
}

func (m *Metrics) IncrementCleanupRuns(status string) {
	if m == nil {
		return
	}
	m.CleanupRunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveCleanupDuration(seconds float64) {
	if m == nil {
		return
	}
	m.CleanupDurationSeconds.Observe(seconds)
}

func (m *Metrics) AddCleanupSwept(penalties, windows int) {
	if m == nil {
		return
	}
	m.CleanupPenaltiesSwept.Add(float64(penalties))
	m.CleanupWindowsSweptTotal.Add(float64(windows))
}
