package ldtest

import (
	"github.com/launchdarkly/test-collector/servicedef"
)

// TestLogger is an interface for reporting test progress as it happens, for instance to the
// console. Remote tests are reported with the remote's name as origin.
type TestLogger interface {
	TestStarted(test servicedef.TestSnapshot, origin Origin)
	TestFinished(test servicedef.TestSnapshot, origin Origin)
	SuiteFinished(tests []servicedef.TestSnapshot, status servicedef.SuiteStatus)
}

type originKey struct {
	origin Origin
	snapshotKey
}

func subscribeTestLogger(bus *CallbackBus, logger TestLogger) {
	started := make(map[originKey]bool)
	bus.OnTestState(func(e TestStateEvent) {
		key := originKey{e.Origin, snapshotKey{e.Test.Name, e.Test.Index}}
		if e.Test.Phase >= servicedef.TestPhaseStarted && !started[key] {
			started[key] = true
			logger.TestStarted(e.Test, e.Origin)
		}
	})
	bus.OnResult(func(e ResultEvent) {
		logger.TestFinished(e.Test, e.Origin)
	})
	bus.OnCompletion(func(e CompletionEvent) {
		if e.Origin == "" {
			logger.SuiteFinished(e.Tests, e.Status)
		}
	})
}
