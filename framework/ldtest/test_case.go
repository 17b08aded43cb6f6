package ldtest

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/launchdarkly/test-collector/framework"
	"github.com/launchdarkly/test-collector/servicedef"

	"github.com/pkg/errors"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

const timedOutMessage = "Test timed out"

// TestCase is a single test in a Suite.
//
// It implements the same basic functionality as Go's testing.T, in an environment that is outside
// of the Go test runner: to make assertions, pass the *TestCase to the assert and require packages
// as if it were a *testing.T. Unlike testing.T, a TestCase may outlive the function that declared
// it. Work that continues asynchronously re-enters the test through Step, or through a function
// returned by StepFunc if it runs on another goroutine.
//
// All methods other than StepFunc and UnreachedFunc must be called on the suite's loop, which is
// the case inside any step.
type TestCase struct {
	suite      *Suite
	name       string
	index      int
	phase      servicedef.TestPhase
	status     servicedef.TestStatus
	message    ldvalue.OptionalString
	stack      ldvalue.OptionalString
	properties ldvalue.Value

	timeoutMS         ldvalue.OptionalInt
	timeoutMultiplier float64
	timeoutHandle     TimeoutHandle

	cleanups []cleanupFunc
	logger   framework.Logger
}

type cleanupFunc struct {
	fn       func()
	internal bool
}

// abortSuite is returned from cleanup when a cleanup function failed, and carries the status
// message the suite is aborted with.
type abortSuite struct {
	reason string
}

type failNowSignal struct{}

type skipSignal struct{}

// TestOption configures a TestCase when it is declared.
type TestOption func(*TestCase)

// WithTimeout overrides the suite's default test timeout. An undefined value means the test has
// no deadline of its own.
func WithTimeout(ms ldvalue.OptionalInt) TestOption {
	return func(t *TestCase) { t.timeoutMS = ms }
}

// WithProperties attaches free-form properties that are carried in every snapshot of the test.
func WithProperties(props ldvalue.Value) TestOption {
	return func(t *TestCase) { t.properties = props }
}

func (t *TestCase) Name() string { return t.name }

// Index is the 1-based registration order of the test, or 0 if it was never registered.
func (t *TestCase) Index() int { return t.index }

func (t *TestCase) Phase() servicedef.TestPhase { return t.phase }

func (t *TestCase) Status() servicedef.TestStatus { return t.status }

// Snapshot returns an immutable copy of the test's observable fields.
func (t *TestCase) Snapshot() servicedef.TestSnapshot {
	return servicedef.TestSnapshot{
		Name:       t.name,
		Index:      t.index,
		Phase:      t.phase,
		Status:     t.status,
		Message:    t.message,
		Stack:      t.stack,
		Properties: t.properties,
	}
}

// Debug writes a message to the suite's debug log, prefixed with the test name.
func (t *TestCase) Debug(message string, args ...interface{}) {
	t.logger.Printf(message, args...)
}

// Record adds the actual values that a test checked to the suite's collection. The collection is
// written to the debug log when the suite completes, and is available from Suite.ActualValues.
func (t *TestCase) Record(actual ...interface{}) {
	t.suite.actualValues = append(t.suite.actualValues, actual...)
}

// Step runs fn as part of the test. Failures reported by fn, and panics raised from it, become
// the test's result; if that gives the test a result, the test completes. Steps of a test that
// already has a result are not run.
func (t *TestCase) Step(fn func(*TestCase)) {
	if t.phase > servicedef.TestPhaseStarted {
		return
	}
	if t.phase == servicedef.TestPhaseInitial {
		t.phase = servicedef.TestPhaseStarted
		t.suite.notifyTestState(t)
	}
	if t.timeoutHandle == 0 {
		t.timeoutHandle = armMillis(t.suite.scheduler, t.timeoutMS, t.timeoutMultiplier, t.timeout)
	}
	t.runStep(fn)
	if t.phase == servicedef.TestPhaseHasResult {
		t.done()
	}
}

func (t *TestCase) runStep(fn func(*TestCase)) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch r.(type) {
		case failNowSignal:
			if t.phase < servicedef.TestPhaseHasResult {
				t.setResult(servicedef.TestStatusFail, "test failed with no failure message", "")
			}
		case skipSignal:
		default:
			message, stack := describePanic(r)
			if t.phase >= servicedef.TestPhaseHasResult {
				t.logger.Printf("ignoring panic after result was recorded: %s", message)
				return
			}
			t.setResult(servicedef.TestStatusFail, message, stack)
		}
	}()
	if fn != nil {
		fn(t)
	}
}

// StepFunc returns a function that can be called from any goroutine to run fn as a step of this
// test on the suite's loop.
func (t *TestCase) StepFunc(fn func(*TestCase)) func() {
	return func() {
		t.suite.loop.Post(func() { t.Step(fn) })
	}
}

// StepTimeout runs fn as a step after a delay, scaled by the suite's timeout multiplier. The
// delay is cancelled if the test completes first.
func (t *TestCase) StepTimeout(fn func(*TestCase), delay time.Duration) {
	scheduler := t.suite.scheduler
	multiplier := t.suite.timeoutMultiplier
	h := scheduler.Arm(time.Duration(float64(delay)*multiplier), func() { t.Step(fn) })
	t.addInternalCleanup(func() { scheduler.Disarm(h) })
}

// UnreachedFunc returns a function, callable from any goroutine, that fails the test if it is
// ever called.
func (t *TestCase) UnreachedFunc(description string) func() {
	return t.StepFunc(func(t *TestCase) {
		t.Errorf("Reached unreachable code: %s", description)
		t.FailNow()
	})
}

// Errorf records a failure. Only the first failure of a test is kept. Assertions from the
// assert and require packages call this.
func (t *TestCase) Errorf(format string, args ...interface{}) {
	err := errors.Errorf(format, args...)
	if t.phase >= servicedef.TestPhaseHasResult {
		t.logger.Printf("ignoring failure after result was recorded: %s", err)
		return
	}
	t.setResult(servicedef.TestStatusFail, err.Error(), stackOf(err))
}

// FailNow stops the current step. If no failure was recorded, the test fails with a generic
// message.
func (t *TestCase) FailNow() {
	panic(failNowSignal{})
}

// Skip stops the current step and completes the test with a NOTRUN status.
func (t *TestCase) Skip() {
	if t.phase < servicedef.TestPhaseHasResult {
		t.setResult(servicedef.TestStatusNotRun, "", "")
	}
	panic(skipSignal{})
}

// Fail records err as the test's failure, unless it already has a result, and completes it.
func (t *TestCase) Fail(err error) {
	if t.phase < servicedef.TestPhaseHasResult {
		t.setResult(servicedef.TestStatusFail, err.Error(), stackOf(err))
	}
	t.done()
}

// Done completes the test. If nothing was reported, it passes. Calling Done more than once has no
// further effect.
func (t *TestCase) Done() {
	t.done()
}

// ForceTimeout completes the test as if its deadline had elapsed.
func (t *TestCase) ForceTimeout() {
	if t.phase < servicedef.TestPhaseHasResult {
		t.setResult(servicedef.TestStatusTimeout, timedOutMessage, "")
	}
	t.done()
}

// AddCleanup registers a function to run once the test's result is fixed, whatever it is.
// Cleanup functions run in the order they were added. If any of them panics, no further tests
// will run in this suite.
func (t *TestCase) AddCleanup(fn func()) {
	t.cleanups = append(t.cleanups, cleanupFunc{fn: fn})
}

func (t *TestCase) addInternalCleanup(fn func()) {
	t.cleanups = append(t.cleanups, cleanupFunc{fn: fn, internal: true})
}

func (t *TestCase) setResult(status servicedef.TestStatus, message, stack string) {
	t.status = status
	t.message, t.stack = ldvalue.OptionalString{}, ldvalue.OptionalString{}
	if status == servicedef.TestStatusFail || status == servicedef.TestStatusTimeout {
		t.message = ldvalue.NewOptionalString(message)
		if stack != "" {
			t.stack = ldvalue.NewOptionalString(stack)
		}
	}
	t.phase = servicedef.TestPhaseHasResult
	t.suite.notifyTestState(t)
}

func (t *TestCase) timeout() {
	t.timeoutHandle = 0
	if t.phase >= servicedef.TestPhaseHasResult {
		return
	}
	t.setResult(servicedef.TestStatusTimeout, timedOutMessage, "")
	t.done()
}

func (t *TestCase) disarmTimeout() {
	if t.timeoutHandle != 0 {
		t.suite.scheduler.Disarm(t.timeoutHandle)
		t.timeoutHandle = 0
	}
}

func (t *TestCase) done() {
	if t.phase == servicedef.TestPhaseComplete {
		return
	}
	if t.phase <= servicedef.TestPhaseStarted {
		t.status = servicedef.TestStatusPass
		t.message, t.stack = ldvalue.OptionalString{}, ldvalue.OptionalString{}
	}
	t.phase = servicedef.TestPhaseComplete
	t.disarmTimeout()

	s := t.suite
	// Completion of the suite waits until the cleanups have run, so that a failing cleanup is
	// reflected in the final status.
	s.processingCallbacks++
	s.result(t)
	abort := t.cleanup()
	s.processingCallbacks--
	if abort != nil {
		s.abort(abort.reason)
		return
	}
	s.maybeComplete()
}

func (t *TestCase) cleanup() *abortSuite {
	userDefined, failed := 0, 0
	cleanups := t.cleanups
	t.cleanups = nil
	for _, c := range cleanups {
		if !c.internal {
			userDefined++
		}
		if err := runCleanup(c.fn); err != nil {
			failed++
			t.logger.Printf("cleanup failed: %s", err)
		}
	}
	if failed == 0 {
		return nil
	}
	plural := ""
	if userDefined > 1 {
		plural = "s"
	}
	return &abortSuite{
		reason: fmt.Sprintf("Test named '%s' specified %d 'cleanup' function%s, and %d failed.",
			t.name, userDefined, plural, failed),
	}
}

func runCleanup(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			message, _ := describePanic(r)
			err = errors.New(message)
		}
	}()
	fn()
	return nil
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func stackOf(err error) string {
	if st, ok := err.(stackTracer); ok {
		return fmt.Sprintf("%+v", st.StackTrace())
	}
	return ""
}

func describePanic(r interface{}) (message, stack string) {
	if err, ok := r.(error); ok {
		if s := stackOf(err); s != "" {
			return err.Error(), s
		}
		return err.Error(), string(debug.Stack())
	}
	return fmt.Sprintf("%v", r), string(debug.Stack())
}
