package ldtest

import (
	"testing"

	"github.com/launchdarkly/test-collector/framework"
	"github.com/launchdarkly/test-collector/servicedef"

	"github.com/stretchr/testify/require"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

type eventRecorder struct {
	starts      []StartEvent
	states      []TestStateEvent
	results     []ResultEvent
	completions []CompletionEvent
}

func (r *eventRecorder) subscribe(bus *CallbackBus) {
	bus.OnStart(func(e StartEvent) { r.starts = append(r.starts, e) })
	bus.OnTestState(func(e TestStateEvent) { r.states = append(r.states, e) })
	bus.OnResult(func(e ResultEvent) { r.results = append(r.results, e) })
	bus.OnCompletion(func(e CompletionEvent) { r.completions = append(r.completions, e) })
}

func (r *eventRecorder) completion(t *testing.T) CompletionEvent {
	require.Len(t, r.completions, 1, "expected exactly one completion event")
	return r.completions[0]
}

func (r *eventRecorder) resultsFor(name string) []servicedef.TestSnapshot {
	var ret []servicedef.TestSnapshot
	for _, e := range r.results {
		if e.Test.Name == name {
			ret = append(ret, e.Test)
		}
	}
	return ret
}

// suiteFixture is a suite driven deterministically: timers only fire when the test advances
// the manual scheduler, and loop tasks only run when the test drains the loop.
type suiteFixture struct {
	suite     *Suite
	scheduler *ManualScheduler
	env       *BasicEnvironment
	events    *eventRecorder
	logger    *framework.CapturingLogger
}

func newSuiteFixture(configure ...func(*SuiteConfig)) *suiteFixture {
	f := &suiteFixture{
		scheduler: &ManualScheduler{},
		env:       NewBasicEnvironment(DefaultHarnessTimeout, ""),
		events:    &eventRecorder{},
		logger:    &framework.CapturingLogger{},
	}
	config := SuiteConfig{Environment: f.env, Scheduler: f.scheduler, DebugLogger: f.logger}
	for _, c := range configure {
		c(&config)
	}
	f.suite = NewSuite(config)
	f.events.subscribe(f.suite.Bus())
	return f
}

// finishLoading marks every resource as loaded, which lets the suite complete once nothing is
// pending, and runs the resulting loop tasks.
func (f *suiteFixture) finishLoading() {
	f.env.MarkLoaded()
	f.suite.Loop().Drain()
}

func props(keysAndValues ...interface{}) ldvalue.Value {
	b := ldvalue.ObjectBuild()
	for i := 0; i < len(keysAndValues); i += 2 {
		b.Set(keysAndValues[i].(string), ldvalue.CopyArbitraryValue(keysAndValues[i+1]))
	}
	return b.Build()
}

func pass(*TestCase) {}
