package ldtest

import (
	"context"
	"testing"
	"time"

	"github.com/launchdarkly/test-collector/framework/harness"
	"github.com/launchdarkly/test-collector/servicedef"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

func runSuite(t *testing.T, s *Suite) CompletionEvent {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	completion, err := s.Run(ctx)
	require.NoError(t, err)
	return completion
}

func newRecordedSuite() (*Suite, *eventRecorder) {
	s := NewSuite(SuiteConfig{})
	events := &eventRecorder{}
	events.subscribe(s.Bus())
	return s, events
}

// scriptRemote plays the part of a remote context on one end of a pipe: it waits for the
// getmessages request and then runs script.
func scriptRemote(t *testing.T, end *harness.PipeEnd, script func(send func(servicedef.Message))) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		for {
			m, err := end.Receive(ctx)
			if err != nil {
				t.Errorf("remote did not receive getmessages: %s", err)
				return
			}
			if m.Type == servicedef.MessageTypeGetMessages {
				break
			}
		}
		script(func(m servicedef.Message) { _ = end.Send(m) })
	}()
}

func remoteResult(name string, index int, status servicedef.TestStatus) servicedef.TestSnapshot {
	return servicedef.TestSnapshot{Name: name, Index: index, Phase: servicedef.TestPhaseComplete, Status: status,
		Properties: ldvalue.ObjectBuild().Build()}
}

func remoteComplete(status servicedef.SuiteStatus, tests ...servicedef.TestSnapshot) servicedef.Message {
	return servicedef.Message{Type: servicedef.MessageTypeComplete, Tests: tests, Status: &status}
}

func okStatus() servicedef.SuiteStatus {
	return servicedef.SuiteStatus{Status: servicedef.SuiteStatusOK}
}

func TestAggregatingNestedSuite(t *testing.T) {
	inner := NewSuite(SuiteConfig{})
	inner.Test("inner a", pass)
	inner.Test("inner b", func(t *TestCase) { t.Errorf("inner failure") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	local, remote := harness.NewPipe()
	go func() { _ = inner.Serve(ctx, remote) }()
	go func() { _, _ = inner.Run(ctx) }()

	outer, events := newRecordedSuite()
	outer.Test("outer", pass)
	h := outer.AttachRemote(RemoteSource{Kind: RemoteWorker, Name: "w", Channel: local})
	require.NotNil(t, h)
	assert.Equal(t, "w", h.Name())

	c := runSuite(t, outer)
	assert.Equal(t, servicedef.SuiteStatusOK, c.Status.Status)
	require.Len(t, c.Tests, 1)
	assert.Equal(t, "outer", c.Tests[0].Name)

	remoteA := events.resultsFor("inner a")
	require.Len(t, remoteA, 1)
	assert.Equal(t, servicedef.TestStatusPass, remoteA[0].Status)
	remoteB := events.resultsFor("inner b")
	require.Len(t, remoteB, 1)
	assert.Equal(t, servicedef.TestStatusFail, remoteB[0].Status)
	assert.Equal(t, "inner failure", remoteB[0].Message.StringValue())

	require.Len(t, events.starts, 2)
	assert.Equal(t, "w", events.starts[1].Origin)
	require.Len(t, events.completions, 2)
	assert.Equal(t, "w", events.completions[0].Origin)
	assert.Equal(t, "", events.completions[1].Origin)

	select {
	case <-h.Done():
	default:
		assert.Fail(t, "remote handle should be done")
	}
	rc, ok := h.Completion()
	require.True(t, ok)
	assert.Len(t, rc.Tests, 2)
}

func TestAggregatingSuiteThatAlreadyCompleted(t *testing.T) {
	inner := NewSuite(SuiteConfig{})
	inner.Test("inner", pass)
	runSuite(t, inner)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	local, remote := harness.NewPipe()
	go func() { _ = inner.Serve(ctx, remote) }()

	outer, events := newRecordedSuite()
	outer.AttachRemote(RemoteSource{Kind: RemoteWorker, Name: "w", Channel: local})
	c := runSuite(t, outer)

	assert.Equal(t, servicedef.SuiteStatusOK, c.Status.Status)
	assert.Len(t, c.Tests, 0)
	assert.Len(t, events.resultsFor("inner"), 1)
}

func TestSuiteWaitsForRemoteCompletion(t *testing.T) {
	local, remote := harness.NewPipe()
	scriptRemote(t, remote, func(send func(servicedef.Message)) {
		send(servicedef.Message{Type: servicedef.MessageTypeStart, Properties: ldvalue.ObjectBuild().Build()})
		send(servicedef.Message{Type: servicedef.MessageTypeResult, Test: &servicedef.TestSnapshot{
			Name: "R1", Index: 1, Phase: servicedef.TestPhaseComplete}})
		time.Sleep(time.Millisecond * 200)
		send(remoteComplete(okStatus(), remoteResult("R1", 1, servicedef.TestStatusPass)))
	})

	outer, events := newRecordedSuite()
	outer.Test("L1", pass)
	outer.AttachRemote(RemoteSource{Kind: RemoteWorker, Name: "w", Channel: local})
	startTime := time.Now()
	c := runSuite(t, outer)

	assert.GreaterOrEqual(t, time.Since(startTime), time.Millisecond*150)
	assert.Equal(t, servicedef.SuiteStatusOK, c.Status.Status)
	assert.Len(t, events.resultsFor("L1"), 1)
	assert.Len(t, events.resultsFor("R1"), 1)
}

func TestRemoteClosedWithoutCompletion(t *testing.T) {
	local, remote := harness.NewPipe()
	scriptRemote(t, remote, func(send func(servicedef.Message)) {
		send(servicedef.Message{Type: servicedef.MessageTypeStart})
		_ = remote.Close()
	})

	outer, _ := newRecordedSuite()
	outer.Test("L1", pass)
	h := outer.AttachRemote(RemoteSource{Kind: RemoteWorker, Name: "w", Channel: local})
	c := runSuite(t, outer)

	assert.Equal(t, servicedef.SuiteStatusError, c.Status.Status)
	assert.Equal(t, "remote context w closed before reporting completion", c.Status.Message.StringValue())
	_, ok := h.Completion()
	assert.False(t, ok)
}

func TestRemoteErrorStatusPropagates(t *testing.T) {
	local, remote := harness.NewPipe()
	scriptRemote(t, remote, func(send func(servicedef.Message)) {
		send(remoteComplete(servicedef.SuiteStatus{
			Status:  servicedef.SuiteStatusError,
			Message: ldvalue.NewOptionalString("inner broke"),
		}))
	})

	outer, _ := newRecordedSuite()
	outer.AttachRemote(RemoteSource{Kind: RemoteWorker, Name: "w", Channel: local})
	c := runSuite(t, outer)

	assert.Equal(t, servicedef.SuiteStatusError, c.Status.Status)
	assert.Equal(t, "inner broke", c.Status.Message.StringValue())
}

func TestRemoteErrorIsDeferredUntilStart(t *testing.T) {
	errorMessage := servicedef.Message{Type: servicedef.MessageTypeError, Message: ldvalue.NewOptionalString("oops")}

	t.Run("fails suite", func(t *testing.T) {
		local, remote := harness.NewPipe()
		scriptRemote(t, remote, func(send func(servicedef.Message)) {
			send(errorMessage)
			send(servicedef.Message{Type: servicedef.MessageTypeStart, Properties: ldvalue.ObjectBuild().Build()})
		})
		outer, _ := newRecordedSuite()
		outer.AttachRemote(RemoteSource{Kind: RemoteWorker, Name: "w", Channel: local})
		c := runSuite(t, outer)
		assert.Equal(t, servicedef.SuiteStatusError, c.Status.Status)
		assert.Equal(t, "Error in remote w: oops", c.Status.Message.StringValue())
	})

	t.Run("ignored when remote allows uncaught errors", func(t *testing.T) {
		local, remote := harness.NewPipe()
		scriptRemote(t, remote, func(send func(servicedef.Message)) {
			send(errorMessage)
			send(servicedef.Message{Type: servicedef.MessageTypeStart, Properties: props(PropAllowUncaughtException, true)})
			send(remoteComplete(okStatus()))
		})
		outer, _ := newRecordedSuite()
		outer.AttachRemote(RemoteSource{Kind: RemoteWorker, Name: "w", Channel: local})
		c := runSuite(t, outer)
		assert.Equal(t, servicedef.SuiteStatusOK, c.Status.Status)
	})
}

func TestServiceWorkerIsSentConnectFirst(t *testing.T) {
	local, remote := harness.NewPipe()
	received := make(chan []string, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		var types []string
		for len(types) < 2 {
			m, err := remote.Receive(ctx)
			if err != nil {
				break
			}
			types = append(types, m.Type)
		}
		received <- types
		_ = remote.Send(remoteComplete(okStatus()))
	}()

	outer, _ := newRecordedSuite()
	outer.AttachRemote(RemoteSource{Kind: RemoteServiceWorker, Name: "sw", Channel: local})
	c := runSuite(t, outer)

	assert.Equal(t, servicedef.SuiteStatusOK, c.Status.Status)
	assert.Equal(t, []string{servicedef.MessageTypeConnect, servicedef.MessageTypeGetMessages}, <-received)
}

type startablePipe struct {
	*harness.PipeEnd
	started bool
}

func (p *startablePipe) Start() error {
	p.started = true
	return nil
}

func TestSharedWorkerChannelIsStarted(t *testing.T) {
	local, remote := harness.NewPipe()
	scriptRemote(t, remote, func(send func(servicedef.Message)) {
		send(remoteComplete(okStatus()))
	})
	channel := &startablePipe{PipeEnd: local}

	outer, _ := newRecordedSuite()
	outer.AttachRemote(RemoteSource{Kind: RemoteSharedWorker, Name: "shared", Channel: channel})
	assert.True(t, channel.started)
	runSuite(t, outer)
}

func TestWindowHasNoHandleButIsAwaited(t *testing.T) {
	local, remote := harness.NewPipe()
	scriptRemote(t, remote, func(send func(servicedef.Message)) {
		time.Sleep(time.Millisecond * 50)
		send(remoteComplete(okStatus(), remoteResult("W1", 1, servicedef.TestStatusPass)))
	})

	outer, events := newRecordedSuite()
	outer.Test("L1", pass)
	assert.Nil(t, outer.AttachRemote(RemoteSource{Kind: RemoteWindow, Name: "win", Channel: local}))
	c := runSuite(t, outer)

	assert.Equal(t, servicedef.SuiteStatusOK, c.Status.Status)
	results := events.resultsFor("W1")
	require.Len(t, results, 1)
	assert.Equal(t, "win", events.results[len(events.results)-1].Origin)
}

func TestAttachAfterCompletionDoesNothing(t *testing.T) {
	f := newSuiteFixture()
	f.suite.Test("a", pass)
	f.finishLoading()
	require.True(t, f.suite.Completed())

	local, _ := harness.NewPipe()
	assert.Nil(t, f.suite.AttachRemote(RemoteSource{Kind: RemoteWorker, Channel: local}))
}

func TestRemoteThatCannotBeOpened(t *testing.T) {
	f := newSuiteFixture()
	local, _ := harness.NewPipe()
	_ = local.Close()
	h := f.suite.AttachRemote(RemoteSource{Kind: RemoteWorker, Name: "w", Channel: local})
	require.NotNil(t, h)
	f.finishLoading()

	c := f.events.completion(t)
	assert.Equal(t, servicedef.SuiteStatusError, c.Status.Status)
	assert.Equal(t, "could not open remote context w: channel is closed", c.Status.Message.StringValue())
}

func TestRemoteWithoutChannel(t *testing.T) {
	f := newSuiteFixture()
	f.suite.AttachRemote(RemoteSource{Kind: RemoteWorker, Name: "w"})
	f.finishLoading()

	c := f.events.completion(t)
	assert.Equal(t, servicedef.SuiteStatusError, c.Status.Status)
	assert.Equal(t, "could not open remote context w: no channel", c.Status.Message.StringValue())
}

func TestDuplicatedRemoteMessagesAreDropped(t *testing.T) {
	running := servicedef.TestSnapshot{Name: "R1", Index: 1, Phase: servicedef.TestPhaseStarted,
		Properties: ldvalue.ObjectBuild().Build()}
	finished := remoteResult("R1", 1, servicedef.TestStatusPass)

	local, remote := harness.NewPipe()
	scriptRemote(t, remote, func(send func(servicedef.Message)) {
		send(servicedef.Message{Type: servicedef.MessageTypeStart})
		send(servicedef.Message{Type: servicedef.MessageTypeStart})
		send(servicedef.Message{Type: servicedef.MessageTypeTestState, Test: &running})
		send(servicedef.Message{Type: servicedef.MessageTypeTestState, Test: &running})
		send(servicedef.Message{Type: servicedef.MessageTypeResult, Test: &finished})
		send(servicedef.Message{Type: servicedef.MessageTypeResult, Test: &finished})
		send(servicedef.Message{Type: servicedef.MessageTypeTestState, Test: &running})
		send(remoteComplete(okStatus(), finished))
	})

	outer, events := newRecordedSuite()
	outer.AttachRemote(RemoteSource{Kind: RemoteWorker, Name: "w", Channel: local})
	runSuite(t, outer)

	assert.Len(t, events.starts, 1)
	assert.Len(t, events.states, 1)
	assert.Len(t, events.resultsFor("R1"), 1)
}

func TestRemoteTestsAreForwardedByServe(t *testing.T) {
	remoteLocal, remoteEnd := harness.NewPipe()
	scriptRemote(t, remoteEnd, func(send func(servicedef.Message)) {
		send(remoteComplete(okStatus(), remoteResult("R1", 1, servicedef.TestStatusPass)))
	})
	middle := NewSuite(SuiteConfig{})
	middle.AttachRemote(RemoteSource{Kind: RemoteWorker, Name: "w", Channel: remoteLocal})
	runSuite(t, middle)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	local, remote := harness.NewPipe()
	go func() { _ = middle.Serve(ctx, remote) }()

	outer, events := newRecordedSuite()
	outer.AttachRemote(RemoteSource{Kind: RemoteWorker, Name: "middle", Channel: local})
	c := runSuite(t, outer)

	assert.Equal(t, servicedef.SuiteStatusOK, c.Status.Status)
	results := events.resultsFor("R1")
	require.Len(t, results, 1)
}
