package metrics

import (
	"testing"
	"time"

	"github.com/launchdarkly/test-collector/framework/ldtest"
	"github.com/launchdarkly/test-collector/servicedef"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordSuiteEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "run1")
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	bus := ldtest.NewCallbackBus(nil, false)
	m.Attach(bus)

	pass := servicedef.TestSnapshot{Name: "a", Index: 1, Phase: servicedef.TestPhaseComplete, Status: servicedef.TestStatusPass}
	fail := servicedef.TestSnapshot{Name: "b", Index: 2, Phase: servicedef.TestPhaseComplete, Status: servicedef.TestStatusFail}

	bus.PublishStart(ldtest.StartEvent{})
	bus.PublishResult(ldtest.ResultEvent{Test: pass})
	bus.PublishResult(ldtest.ResultEvent{Test: fail})
	bus.PublishResult(ldtest.ResultEvent{Origin: "w1", Test: pass})
	bus.PublishCompletion(ldtest.CompletionEvent{Origin: "w1", Status: servicedef.SuiteStatus{Status: servicedef.SuiteStatusOK}})
	clock = clock.Add(time.Second * 3)
	bus.PublishCompletion(ldtest.CompletionEvent{
		Tests:  []servicedef.TestSnapshot{pass, fail},
		Status: servicedef.SuiteStatus{Status: servicedef.SuiteStatusOK},
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.testsTotal.WithLabelValues("run1", "local", "PASS")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.testsTotal.WithLabelValues("run1", "local", "FAIL")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.testsTotal.WithLabelValues("run1", "w1", "PASS")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.remoteCompletions.WithLabelValues("run1", "w1", "OK")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.suiteResults.WithLabelValues("run1", "OK")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.suiteTests.WithLabelValues("run1")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.suiteDuration.WithLabelValues("run1")))
}

func TestMetricsAreRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "run2")
	m.testsTotal.WithLabelValues("run2", "local", "PASS").Inc()

	count, err := testutil.GatherAndCount(reg, "collector_tests_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}
