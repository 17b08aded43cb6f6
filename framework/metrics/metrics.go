package metrics

import (
	"time"

	"github.com/launchdarkly/test-collector/framework/ldtest"
	"github.com/launchdarkly/test-collector/servicedef"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "collector"

	localOrigin = "local"
)

// Metrics records test outcomes from a suite's events.
type Metrics struct {
	runID   string
	started time.Time
	now     func() time.Time

	testsTotal        *prometheus.CounterVec
	remoteCompletions *prometheus.CounterVec
	suiteResults      *prometheus.GaugeVec
	suiteTests        *prometheus.GaugeVec
	suiteDuration     *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, runID string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runID: runID,
		now:   time.Now,
		testsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "tests_total",
			Help:      "Count of completed tests by origin and status",
		}, []string{
			"run_id",
			"origin",
			"status",
		}),
		remoteCompletions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "remote_completions_total",
			Help:      "Count of remote contexts that reported completion, by status",
		}, []string{
			"run_id",
			"origin",
			"status",
		}),
		suiteResults: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "suite_results",
			Help:      "Final status of the suite",
		}, []string{
			"run_id",
			"status",
		}),
		suiteTests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "suite_tests",
			Help:      "Number of local tests in the completed suite",
		}, []string{
			"run_id",
		}),
		suiteDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "suite_duration_seconds",
			Help:      "Time from the suite's start event to its completion",
		}, []string{
			"run_id",
		}),
	}
}

// Attach subscribes to a suite's events. It must be called on the suite's loop, before the
// suite starts.
func (m *Metrics) Attach(bus *ldtest.CallbackBus) {
	bus.OnStart(func(e ldtest.StartEvent) {
		if e.Origin == "" {
			m.started = m.now()
		}
	})
	bus.OnResult(func(e ldtest.ResultEvent) {
		m.testsTotal.WithLabelValues(m.runID, originLabel(e.Origin), e.Test.Status.String()).Inc()
	})
	bus.OnCompletion(func(e ldtest.CompletionEvent) {
		if e.Origin != "" {
			m.remoteCompletions.WithLabelValues(m.runID, e.Origin, e.Status.Status.String()).Inc()
			return
		}
		m.recordSuite(e.Tests, e.Status)
	})
}

func (m *Metrics) recordSuite(tests []servicedef.TestSnapshot, status servicedef.SuiteStatus) {
	m.suiteResults.WithLabelValues(m.runID, status.Status.String()).Set(1)
	m.suiteTests.WithLabelValues(m.runID).Set(float64(len(tests)))
	if !m.started.IsZero() {
		m.suiteDuration.WithLabelValues(m.runID).Set(m.now().Sub(m.started).Seconds())
	}
}

func originLabel(origin ldtest.Origin) string {
	if origin == "" {
		return localOrigin
	}
	return origin
}
