package ldtest

import (
	"github.com/launchdarkly/test-collector/servicedef"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// EventKind is one of the four kinds of suite events.
type EventKind string

const (
	EventStart      EventKind = "start"
	EventTestState  EventKind = "test_state"
	EventResult     EventKind = "result"
	EventCompletion EventKind = "completion"
)

// AllEventKinds returns every event kind, in lifecycle order.
func AllEventKinds() []EventKind {
	return []EventKind{EventStart, EventTestState, EventResult, EventCompletion}
}

// ParseEventKind maps an event kind name to an EventKind.
func ParseEventKind(name string) (EventKind, bool) {
	for _, k := range AllEventKinds() {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// Origin identifies where an event came from. The empty string means the local suite; for
// events from a remote context it is the remote's name.
type Origin = string

// StartEvent is published once, when the first test is registered.
type StartEvent struct {
	Origin     Origin
	Properties ldvalue.Value
}

// TestStateEvent is published whenever a test is registered or its phase or status changes.
type TestStateEvent struct {
	Origin Origin
	Test   servicedef.TestSnapshot
}

// ResultEvent is published once per test, when it completes.
type ResultEvent struct {
	Origin Origin
	Test   servicedef.TestSnapshot
}

// CompletionEvent is published exactly once per suite.
type CompletionEvent struct {
	Origin Origin
	Tests  []servicedef.TestSnapshot
	Status servicedef.SuiteStatus
}

func (e StartEvent) message() servicedef.Message {
	return servicedef.Message{Type: servicedef.MessageTypeStart, Properties: e.Properties}
}

func (e TestStateEvent) message() servicedef.Message {
	test := e.Test
	return servicedef.Message{Type: servicedef.MessageTypeTestState, Test: &test}
}

func (e ResultEvent) message() servicedef.Message {
	test := e.Test
	return servicedef.Message{Type: servicedef.MessageTypeResult, Test: &test}
}

func (e CompletionEvent) message() servicedef.Message {
	status := e.Status
	tests := append([]servicedef.TestSnapshot(nil), e.Tests...)
	if tests == nil {
		tests = []servicedef.TestSnapshot{}
	}
	return servicedef.Message{Type: servicedef.MessageTypeComplete, Tests: tests, Status: &status}
}
