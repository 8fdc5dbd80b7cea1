package telemetry

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Save outcomes.
const (
	SaveNoop        = "noop"
	SaveIncremental = "incremental"
	SaveError       = "error"
)

// Metrics are the worker's Prometheus collectors.
type Metrics struct {
	Sessions         prometheus.Counter
	ActiveSessions   prometheus.Gauge
	TasksStarted     *prometheus.CounterVec
	TasksFinished    *prometheus.CounterVec
	LoadRecoveries   prometheus.Counter
	PasswordRequests prometheus.Counter
	LoadFailures     *prometheus.CounterVec
	LoadDuration     prometheus.Histogram
	Saves            *prometheus.CounterVec
	SaveDuration     prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg uses a private
// registry, which keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Sessions: f.NewCounter(prometheus.CounterOpts{
			Name: "docworker_sessions_total",
			Help: "Document sessions created",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "docworker_sessions_active",
			Help: "Document sessions not yet terminated",
		}),
		TasksStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docworker_tasks_started_total",
			Help: "Worker tasks started, by kind",
		}, []string{"kind"}),
		TasksFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docworker_tasks_finished_total",
			Help: "Worker tasks finished, by kind and outcome",
		}, []string{"kind", "outcome"}),
		LoadRecoveries: f.NewCounter(prometheus.CounterOpts{
			Name: "docworker_load_recoveries_total",
			Help: "Loads retried in recovery mode after a cross-reference error",
		}),
		PasswordRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "docworker_password_requests_total",
			Help: "Password round trips with the host",
		}),
		LoadFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docworker_load_failures_total",
			Help: "Loads that ended in a DocException, by exception name",
		}, []string{"exception"}),
		LoadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docworker_load_duration_seconds",
			Help:    "Time from Ready to GetDoc",
			Buckets: prometheus.DefBuckets,
		}),
		Saves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docworker_saves_total",
			Help: "SaveDocument calls, by outcome",
		}, []string{"outcome"}),
		SaveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docworker_save_duration_seconds",
			Help:    "SaveDocument duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// TaskKind reduces a task name such as "GetOperatorList: page 3" to its
// kind.
func TaskKind(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}

// TaskStarted counts a started task.
func (m *Metrics) TaskStarted(name string) {
	m.TasksStarted.WithLabelValues(TaskKind(name)).Inc()
}

// TaskFinished counts a finished task.
func (m *Metrics) TaskFinished(name string, terminated bool) {
	outcome := "done"
	if terminated {
		outcome = "terminated"
	}
	m.TasksFinished.WithLabelValues(TaskKind(name), outcome).Inc()
}
