package ldtest

import (
	"context"
	"fmt"
	"time"

	"github.com/launchdarkly/test-collector/framework"
	"github.com/launchdarkly/test-collector/servicedef"

	"github.com/google/uuid"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// SuitePhase is the coarse lifecycle stage of a suite. It only increases, except that ABORTED may
// be entered from any phase.
type SuitePhase int

const (
	SuitePhaseInitial     SuitePhase = 0
	SuitePhaseSetup       SuitePhase = 1
	SuitePhaseHaveTests   SuitePhase = 2
	SuitePhaseHaveResults SuitePhase = 3
	SuitePhaseComplete    SuitePhase = 4
	SuitePhaseAborted     SuitePhase = 5
)

func (p SuitePhase) String() string {
	switch p {
	case SuitePhaseInitial:
		return "INITIAL"
	case SuitePhaseSetup:
		return "SETUP"
	case SuitePhaseHaveTests:
		return "HAVE_TESTS"
	case SuitePhaseHaveResults:
		return "HAVE_RESULTS"
	case SuitePhaseComplete:
		return "COMPLETE"
	case SuitePhaseAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("SuitePhase(%d)", int(p))
	}
}

// Setup property names recognized by Suite.Setup.
const (
	PropAllowUncaughtException = "allow_uncaught_exception"
	PropExplicitDone           = "explicit_done"
	PropExplicitTimeout        = "explicit_timeout"
	PropTimeoutMultiplier      = "timeout_multiplier"
	PropMessageEvents          = "message_events"
)

// SuiteConfig holds the collaborators of a Suite. Every field is optional.
type SuiteConfig struct {
	// Environment defaults to a BasicEnvironment with DefaultHarnessTimeout.
	Environment Environment
	// Scheduler defaults to real timers posting onto the suite's loop.
	Scheduler TimeoutScheduler
	// TestTimeout is the deadline of each test in milliseconds. Undefined means tests have no
	// deadline of their own and only the suite deadline applies.
	TestTimeout ldvalue.OptionalInt
	// Filter selects which tests run. Tests it rejects complete as NOTRUN.
	Filter framework.Filter
	// TestLogger is subscribed to the suite's events.
	TestLogger TestLogger
	// DebugLogger receives diagnostic output.
	DebugLogger framework.Logger
	// Debug makes listener panics propagate instead of being swallowed.
	Debug bool
	// RunID identifies this run in logs and metrics. A random one is generated if empty.
	RunID string
}

// Suite owns a set of tests and the remote contexts attached to it, and decides when the run as
// a whole is complete.
//
// A Suite is not safe for concurrent use. Every method must be called on its loop: either from
// the goroutine that will call Run, before Run is called, or from code running on the loop
// such as a test step or a listener. Other goroutines use Loop().Post.
type Suite struct {
	config    SuiteConfig
	env       Environment
	loop      *Loop
	scheduler TimeoutScheduler
	bus       *CallbackBus
	logger    framework.Logger
	runID     string

	phase               SuitePhase
	completed           bool
	tests               []*TestCase
	numPending          int
	waitForFinish       bool
	processingCallbacks int
	properties          ldvalue.Value

	allowUncaught     bool
	explicitTimeout   bool
	timeoutMultiplier float64
	timeoutHandle     TimeoutHandle
	timedOut          bool

	status       servicedef.SuiteStatus
	statusPinned bool

	actualValues []interface{}

	remotes     []*remoteAggregator
	promises    []*promiseEntry
	promiseBusy bool
	completion  *CompletionEvent
}

// NewSuite creates a Suite and arms its deadline.
func NewSuite(config SuiteConfig) *Suite {
	s := &Suite{
		config:            config,
		env:               config.Environment,
		scheduler:         config.Scheduler,
		logger:            config.DebugLogger,
		runID:             config.RunID,
		properties:        ldvalue.ObjectBuild().Build(),
		timeoutMultiplier: 1,
	}
	if s.env == nil {
		s.env = NewBasicEnvironment(DefaultHarnessTimeout, "")
	}
	if s.logger == nil {
		s.logger = framework.NullLogger()
	}
	if s.runID == "" {
		s.runID = uuid.New().String()
	}
	s.loop = NewLoop(func(value interface{}, stack []byte) {
		s.logger.Printf("panic on suite loop: %v\n%s", value, stack)
		s.UncaughtError(value)
	})
	if s.scheduler == nil {
		s.scheduler = NewLoopScheduler(s.loop)
	}
	s.bus = NewCallbackBus(s.logger, config.Debug)
	if config.TestLogger != nil {
		subscribeTestLogger(s.bus, config.TestLogger)
	}
	s.env.OnAllResourcesLoaded(func() {
		s.loop.Post(s.maybeComplete)
	})
	s.setTimeout()
	return s
}

func (s *Suite) Bus() *CallbackBus { return s.bus }

func (s *Suite) Loop() *Loop { return s.loop }

func (s *Suite) RunID() string { return s.runID }

func (s *Suite) Phase() SuitePhase { return s.phase }

// Completed returns true once the completion event has been published.
func (s *Suite) Completed() bool { return s.completed }

// Completion returns the completion event, if the suite has completed.
func (s *Suite) Completion() (CompletionEvent, bool) {
	if s.completion == nil {
		return CompletionEvent{}, false
	}
	return *s.completion, true
}

// ActualValues returns every value recorded by the suite's tests, in the order they were recorded.
func (s *Suite) ActualValues() []interface{} {
	return append([]interface{}(nil), s.actualValues...)
}

// Tests returns snapshots of every registered test, in registration order.
func (s *Suite) Tests() []servicedef.TestSnapshot {
	ret := make([]servicedef.TestSnapshot, 0, len(s.tests))
	for _, t := range s.tests {
		ret = append(ret, t.Snapshot())
	}
	return ret
}

// Test declares a synchronous test: body runs immediately as the first step, and unless it
// arranged otherwise the test completes when body returns.
func (s *Suite) Test(name string, body func(*TestCase), options ...TestOption) *TestCase {
	t := s.newTestCase(name, options)
	if s.register(t) {
		t.Step(body)
		if t.phase == servicedef.TestPhaseStarted {
			t.done()
		}
	}
	return t
}

// AsyncTest declares a test that stays open until Done is called, a failure is recorded, or its
// deadline elapses. If body is non-nil it runs immediately as the first step.
func (s *Suite) AsyncTest(name string, body func(*TestCase), options ...TestOption) *TestCase {
	t := s.newTestCase(name, options)
	if s.register(t) && body != nil {
		t.Step(body)
	}
	return t
}

// GenerateTests declares one synchronous test per case.
func GenerateTests[C any](s *Suite, cases []C, name func(C) string, body func(*TestCase, C), options ...TestOption) []*TestCase {
	ret := make([]*TestCase, 0, len(cases))
	for _, c := range cases {
		c := c
		ret = append(ret, s.Test(name(c), func(t *TestCase) { body(t, c) }, options...))
	}
	return ret
}

func (s *Suite) newTestCase(name string, options []TestOption) *TestCase {
	if name == "" {
		name = s.env.NextDefaultName()
	}
	t := &TestCase{
		suite:             s,
		name:              name,
		status:            servicedef.TestStatusNotRun,
		properties:        ldvalue.ObjectBuild().Build(),
		timeoutMS:         s.config.TestTimeout,
		timeoutMultiplier: s.timeoutMultiplier,
		logger:            framework.LoggerWithPrefix(s.logger, "["+name+"] "),
	}
	for _, o := range options {
		o(t)
	}
	return t
}

// register adds a test to the suite and returns true if its body should run.
func (s *Suite) register(t *TestCase) bool {
	if s.completed || s.phase == SuitePhaseAborted {
		t.phase = servicedef.TestPhaseComplete
		t.status = servicedef.TestStatusNotRun
		s.logger.Printf("test %q not run because the suite is %s", t.name, s.phase)
		return false
	}
	if s.phase < SuitePhaseHaveTests {
		s.phase = SuitePhaseHaveTests
		s.bus.PublishStart(StartEvent{Properties: s.properties})
	}
	s.tests = append(s.tests, t)
	t.index = len(s.tests)
	s.numPending++
	s.notifyTestState(t)
	if s.config.Filter != nil && !s.config.Filter(t.name) {
		t.setResult(servicedef.TestStatusNotRun, "", "")
		t.done()
		return false
	}
	return true
}

func (s *Suite) notifyTestState(t *TestCase) {
	s.bus.PublishTestState(TestStateEvent{Test: t.Snapshot()})
}

func (s *Suite) result(t *TestCase) {
	if s.phase > SuitePhaseHaveResults {
		return
	}
	s.phase = SuitePhaseHaveResults
	s.numPending--
	s.notifyResult(t.Snapshot())
}

func (s *Suite) notifyResult(test servicedef.TestSnapshot) {
	s.processingCallbacks++
	s.bus.PublishResult(ResultEvent{Test: test})
	s.processingCallbacks--
	s.maybeComplete()
}

func (s *Suite) allDone() bool {
	if s.phase == SuitePhaseAborted {
		return true
	}
	if len(s.tests) == 0 && len(s.remotes) == 0 {
		return false
	}
	for _, r := range s.remotes {
		if r.running {
			return false
		}
	}
	return s.env.AllResourcesLoaded() &&
		s.numPending == 0 &&
		!s.waitForFinish &&
		s.processingCallbacks == 0
}

func (s *Suite) maybeComplete() {
	if !s.completed && s.allDone() {
		s.complete()
	}
}

func (s *Suite) complete() {
	if s.completed {
		return
	}
	s.completed = true
	if s.phase != SuitePhaseAborted {
		s.phase = SuitePhaseComplete
	}
	s.disarmTimeout()
	for _, t := range s.tests {
		if t.phase < servicedef.TestPhaseComplete {
			s.forceComplete(t)
		}
	}
	for _, r := range s.remotes {
		r.detach()
	}
	s.notifyComplete()
}

func (s *Suite) forceComplete(t *TestCase) {
	t.disarmTimeout()
	switch t.phase {
	case servicedef.TestPhaseInitial:
		t.status = servicedef.TestStatusNotRun
	case servicedef.TestPhaseStarted:
		// only the suite deadline turns a running test into a timeout; an abort keeps whatever
		// status the test had
		if s.timedOut {
			t.status = servicedef.TestStatusTimeout
			t.message = ldvalue.NewOptionalString(timedOutMessage)
		}
	}
	t.phase = servicedef.TestPhaseComplete
	s.numPending--
	s.processingCallbacks++
	s.bus.PublishResult(ResultEvent{Test: t.Snapshot()})
	s.processingCallbacks--
	if abort := t.cleanup(); abort != nil {
		s.phase = SuitePhaseAborted
		s.pinStatus(servicedef.SuiteStatusError, abort.reason, "")
	}
}

func (s *Suite) notifyComplete() {
	if !s.statusPinned {
		if dups := findDuplicateNames(s.tests); len(dups) > 0 {
			s.pinStatus(servicedef.SuiteStatusError, duplicateNamesMessage(dups), "")
		} else {
			s.pinStatus(servicedef.SuiteStatusOK, "", "")
		}
	}
	event := CompletionEvent{Tests: s.Tests(), Status: s.status}
	s.completion = &event
	s.bus.PublishCompletion(event)
	s.logger.Printf("All tests actual values: %s", FormatValue(s.actualValues))
	s.loop.Stop()
}

// pinStatus fixes the final status of the suite. The first status pinned wins.
func (s *Suite) pinStatus(code servicedef.SuiteStatusCode, message, stack string) {
	if s.statusPinned {
		return
	}
	s.statusPinned = true
	s.status = servicedef.SuiteStatus{Status: code}
	if message != "" {
		s.status.Message = ldvalue.NewOptionalString(message)
	}
	if stack != "" {
		s.status.Stack = ldvalue.NewOptionalString(stack)
	}
}

func (s *Suite) abort(reason string) {
	if s.completed {
		return
	}
	s.logger.Printf("suite aborted: %s", reason)
	s.phase = SuitePhaseAborted
	s.pinStatus(servicedef.SuiteStatusError, reason, "")
	s.complete()
}

// Setup configures the suite. It has no effect once any test has a result. Recognized
// properties are allow_uncaught_exception, explicit_done, explicit_timeout, timeout_multiplier
// and message_events; the whole property object is also carried in the start event. If init
// panics the suite's status becomes ERROR, but tests can still be declared and run.
func (s *Suite) Setup(init func(), properties ldvalue.Value) {
	if s.phase >= SuitePhaseHaveResults {
		return
	}
	if s.phase < SuitePhaseSetup {
		s.phase = SuitePhaseSetup
	}
	if properties.Type() == ldvalue.ObjectType {
		s.properties = properties
	}
	for _, key := range properties.Keys() {
		value := properties.GetByKey(key)
		switch key {
		case PropAllowUncaughtException:
			s.allowUncaught = value.BoolValue()
		case PropExplicitDone:
			if value.BoolValue() {
				s.waitForFinish = true
			}
		case PropExplicitTimeout:
			if value.BoolValue() {
				s.explicitTimeout = true
			}
		case PropTimeoutMultiplier:
			if m := value.Float64Value(); m > 0 {
				s.timeoutMultiplier = m
			}
		case PropMessageEvents:
			var kinds []EventKind
			for i := 0; i < value.Count(); i++ {
				if k, ok := ParseEventKind(value.GetByIndex(i).StringValue()); ok {
					kinds = append(kinds, k)
				}
			}
			s.bus.SetExported(kinds)
		}
	}
	if init != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					message, stack := describePanic(r)
					s.logger.Printf("setup function failed: %s", message)
					s.pinStatus(servicedef.SuiteStatusError, message, stack)
				}
			}()
			init()
		}()
	}
	s.setTimeout()
}

func (s *Suite) setTimeout() {
	s.disarmTimeout()
	if s.explicitTimeout || s.completed {
		return
	}
	d := s.env.TestTimeout()
	if d <= 0 {
		return
	}
	s.timeoutHandle = s.scheduler.Arm(time.Duration(float64(d)*s.timeoutMultiplier), s.timeout)
}

func (s *Suite) disarmTimeout() {
	if s.timeoutHandle != 0 {
		s.scheduler.Disarm(s.timeoutHandle)
		s.timeoutHandle = 0
	}
}

func (s *Suite) timeout() {
	s.timeoutHandle = 0
	s.timedOut = true
	s.pinStatus(servicedef.SuiteStatusTimeout, "", "")
	s.complete()
}

// Timeout completes the suite with a TIMEOUT status, as if its deadline had elapsed. It only
// has an effect if the suite was set up with explicit_timeout, meaning that the host is
// responsible for deciding when the run has taken too long.
func (s *Suite) Timeout() {
	if s.explicitTimeout {
		s.timeout()
	}
}

// EndWait clears the explicit_done hold, allowing the suite to complete once everything else is
// finished.
func (s *Suite) EndWait() {
	s.waitForFinish = false
	s.maybeComplete()
}

// UncaughtError reports an error that escaped every test. Unless the suite was set up with
// allow_uncaught_exception, the suite is aborted with an ERROR status.
func (s *Suite) UncaughtError(value interface{}) {
	if s.completed {
		return
	}
	message, stack := describePanic(value)
	if s.allowUncaught {
		s.logger.Printf("ignoring uncaught error: %s", message)
		return
	}
	s.pinStatus(servicedef.SuiteStatusError, message, stack)
	s.abort(message)
}

// Run drives the suite's loop until the suite completes or ctx is cancelled. If the
// environment can be marked as loaded, it is marked when Run starts.
func (s *Suite) Run(ctx context.Context) (CompletionEvent, error) {
	if loader, ok := s.env.(ResourceLoader); ok {
		loader.MarkLoaded()
	}
	s.loop.Post(s.maybeComplete)
	if err := s.loop.Run(ctx); err != nil {
		return CompletionEvent{}, err
	}
	if event, ok := s.Completion(); ok {
		return event, nil
	}
	return CompletionEvent{}, fmt.Errorf("suite loop stopped before completion")
}
