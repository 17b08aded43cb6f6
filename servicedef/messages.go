package servicedef

import (
	"fmt"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// Message types exchanged between execution contexts. The first four carry suite events; the
// rest are control messages.
const (
	MessageTypeStart       = "start"
	MessageTypeTestState   = "test_state"
	MessageTypeResult      = "result"
	MessageTypeComplete    = "complete"
	MessageTypeGetMessages = "getmessages"
	MessageTypeConnect     = "connect"
	MessageTypeError       = "error"
)

// TestPhase is the coarse lifecycle stage of a single test. It only ever increases.
type TestPhase int

const (
	TestPhaseInitial   TestPhase = 0
	TestPhaseStarted   TestPhase = 1
	TestPhaseHasResult TestPhase = 2
	TestPhaseComplete  TestPhase = 3
)

func (p TestPhase) String() string {
	switch p {
	case TestPhaseInitial:
		return "INITIAL"
	case TestPhaseStarted:
		return "STARTED"
	case TestPhaseHasResult:
		return "HAS_RESULT"
	case TestPhaseComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("TestPhase(%d)", int(p))
	}
}

// TestStatus is the outcome of a test.
type TestStatus int

const (
	TestStatusPass    TestStatus = 0
	TestStatusFail    TestStatus = 1
	TestStatusTimeout TestStatus = 2
	TestStatusNotRun  TestStatus = 3
)

func (s TestStatus) String() string {
	switch s {
	case TestStatusPass:
		return "PASS"
	case TestStatusFail:
		return "FAIL"
	case TestStatusTimeout:
		return "TIMEOUT"
	case TestStatusNotRun:
		return "NOTRUN"
	default:
		return fmt.Sprintf("TestStatus(%d)", int(s))
	}
}

// SuiteStatusCode is the overall outcome of a suite.
type SuiteStatusCode int

const (
	SuiteStatusOK      SuiteStatusCode = 0
	SuiteStatusError   SuiteStatusCode = 1
	SuiteStatusTimeout SuiteStatusCode = 2
)

func (s SuiteStatusCode) String() string {
	switch s {
	case SuiteStatusOK:
		return "OK"
	case SuiteStatusError:
		return "ERROR"
	case SuiteStatusTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("SuiteStatusCode(%d)", int(s))
	}
}

// TestSnapshot is an immutable copy of a test's observable fields. Message and Stack are only
// defined for FAIL and TIMEOUT results.
type TestSnapshot struct {
	Name       string                 `json:"name"`
	Index      int                    `json:"index"`
	Phase      TestPhase              `json:"phase"`
	Status     TestStatus             `json:"status"`
	Message    ldvalue.OptionalString `json:"message"`
	Stack      ldvalue.OptionalString `json:"stack"`
	Properties ldvalue.Value          `json:"properties"`
}

// SuiteStatus is the final status record of a suite.
type SuiteStatus struct {
	Status  SuiteStatusCode        `json:"status"`
	Message ldvalue.OptionalString `json:"message"`
	Stack   ldvalue.OptionalString `json:"stack"`
}

// Message is the serialized form of a suite event or control message. Which fields are set
// depends on Type:
//
//	start       Properties
//	test_state  Test
//	result      Test
//	complete    Tests, Status
//	error       Message, Stack
type Message struct {
	Type       string                 `json:"type"`
	Properties ldvalue.Value          `json:"properties"`
	Test       *TestSnapshot          `json:"test,omitempty"`
	Tests      []TestSnapshot         `json:"tests,omitempty"`
	Status     *SuiteStatus           `json:"status,omitempty"`
	Message    ldvalue.OptionalString `json:"message"`
	Stack      ldvalue.OptionalString `json:"stack"`
}

// IsEvent returns true for the four message types that carry suite events.
func (m Message) IsEvent() bool {
	switch m.Type {
	case MessageTypeStart, MessageTypeTestState, MessageTypeResult, MessageTypeComplete:
		return true
	}
	return false
}

func (m Message) String() string {
	switch m.Type {
	case MessageTypeTestState, MessageTypeResult:
		if m.Test != nil {
			return fmt.Sprintf("%s(%d %q %s %s)", m.Type, m.Test.Index, m.Test.Name, m.Test.Phase, m.Test.Status)
		}
	case MessageTypeComplete:
		if m.Status != nil {
			return fmt.Sprintf("%s(%d tests, %s)", m.Type, len(m.Tests), m.Status.Status)
		}
	}
	return m.Type
}
