package ldtest

import (
	"context"
	"fmt"
	"strings"

	"github.com/launchdarkly/test-collector/servicedef"

	"github.com/google/uuid"
)

// RemoteChannelKind says what kind of execution context is on the other end of a remote
// channel, which determines how the channel is opened.
type RemoteChannelKind int

const (
	// RemoteWorker is a dedicated worker; its channel is ready as soon as it exists.
	RemoteWorker RemoteChannelKind = iota
	// RemoteSharedWorker is a shared worker; its channel must be started.
	RemoteSharedWorker
	// RemoteServiceWorker is a service worker; it must be sent a connect message first.
	RemoteServiceWorker
	// RemoteWindow is another suite that broadcasts its events. Attaching one does not produce a
	// handle.
	RemoteWindow
)

func (k RemoteChannelKind) String() string {
	switch k {
	case RemoteWorker:
		return "worker"
	case RemoteSharedWorker:
		return "sharedworker"
	case RemoteServiceWorker:
		return "serviceworker"
	case RemoteWindow:
		return "window"
	default:
		return fmt.Sprintf("RemoteChannelKind(%d)", int(k))
	}
}

// ParseRemoteChannelKind is the inverse of RemoteChannelKind.String.
func ParseRemoteChannelKind(s string) (RemoteChannelKind, error) {
	for _, k := range []RemoteChannelKind{RemoteWorker, RemoteSharedWorker, RemoteServiceWorker, RemoteWindow} {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown remote kind %q", s)
}

// RemoteSource describes a remote execution context to attach to a suite.
type RemoteSource struct {
	Kind RemoteChannelKind
	// Name identifies the remote in origins and diagnostics. A random one is generated if empty.
	Name    string
	Channel Channel
}

// RemoteHandle tracks a remote worker attached to a suite.
type RemoteHandle struct {
	agg *remoteAggregator
}

func (h *RemoteHandle) Name() string { return h.agg.source.Name }

// Done returns a channel that is closed when the remote stops running: it reported completion,
// failed, or the local suite completed first.
func (h *RemoteHandle) Done() <-chan struct{} { return h.agg.done }

// Completion returns the remote's own completion event. It is only meaningful once Done is
// closed, and ok is false if the remote never reported completion.
func (h *RemoteHandle) Completion() (event CompletionEvent, ok bool) {
	select {
	case <-h.agg.done:
	default:
		return CompletionEvent{}, false
	}
	if h.agg.completion == nil {
		return CompletionEvent{}, false
	}
	return *h.agg.completion, true
}

type snapshotKey struct {
	name  string
	index int
}

// remoteAggregator feeds the events of one remote context into a local suite. Messages are read
// on a separate goroutine and handled on the suite's loop; the remote counts as pending work
// until it reports completion.
type remoteAggregator struct {
	suite         *Suite
	source        RemoteSource
	running       bool
	started       bool
	allowUncaught bool
	pendingErrors []servicedef.Message
	states        map[snapshotKey]servicedef.TestSnapshot
	results       map[snapshotKey]servicedef.TestSnapshot
	completion    *CompletionEvent
	done          chan struct{}
	cancel        context.CancelFunc
	detached      bool
}

// AttachRemote starts aggregating the events of a remote context. The suite will not complete
// on its own while the remote is running. It returns nil for RemoteWindow sources, and if the
// suite has already completed, in which case nothing is attached.
func (s *Suite) AttachRemote(source RemoteSource) *RemoteHandle {
	if s.completed {
		return nil
	}
	if source.Name == "" {
		source.Name = uuid.New().String()
	}
	r := &remoteAggregator{
		suite:   s,
		source:  source,
		running: true,
		states:  make(map[snapshotKey]servicedef.TestSnapshot),
		results: make(map[snapshotKey]servicedef.TestSnapshot),
		done:    make(chan struct{}),
	}
	s.remotes = append(s.remotes, r)
	if err := r.open(); err != nil {
		r.fail(fmt.Sprintf("could not open remote context %s: %s", source.Name, err), "")
	}
	if source.Kind == RemoteWindow {
		return nil
	}
	return &RemoteHandle{agg: r}
}

func (r *remoteAggregator) open() error {
	ch := r.source.Channel
	if ch == nil {
		return fmt.Errorf("no channel")
	}
	switch r.source.Kind {
	case RemoteSharedWorker:
		if starter, ok := ch.(Starter); ok {
			if err := starter.Start(); err != nil {
				return err
			}
		}
	case RemoteServiceWorker:
		if err := ch.Send(servicedef.Message{Type: servicedef.MessageTypeConnect}); err != nil {
			return err
		}
	}
	if err := ch.Send(servicedef.Message{Type: servicedef.MessageTypeGetMessages}); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.read(ctx)
	return nil
}

func (r *remoteAggregator) read(ctx context.Context) {
	for {
		m, err := r.source.Channel.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.suite.loop.Post(func() { r.closed(err) })
			}
			return
		}
		r.suite.loop.Post(func() { r.handle(m) })
	}
}

func (r *remoteAggregator) origin() Origin {
	return r.source.Name
}

func (r *remoteAggregator) handle(m servicedef.Message) {
	if !r.running {
		return
	}
	s := r.suite
	switch m.Type {
	case servicedef.MessageTypeStart:
		if r.started {
			return
		}
		r.started = true
		r.allowUncaught = m.Properties.GetByKey(PropAllowUncaughtException).BoolValue()
		s.bus.PublishStart(StartEvent{Origin: r.origin(), Properties: m.Properties})
		errs := r.pendingErrors
		r.pendingErrors = nil
		for _, e := range errs {
			r.remoteError(e)
		}
	case servicedef.MessageTypeTestState:
		if m.Test == nil {
			return
		}
		key := snapshotKey{m.Test.Name, m.Test.Index}
		if _, ok := r.results[key]; ok {
			return
		}
		if prev, ok := r.states[key]; ok && sameSnapshot(prev, *m.Test) {
			return
		}
		r.states[key] = *m.Test
		s.bus.PublishTestState(TestStateEvent{Origin: r.origin(), Test: *m.Test})
	case servicedef.MessageTypeResult:
		if m.Test != nil {
			r.addResult(*m.Test)
		}
	case servicedef.MessageTypeComplete:
		r.complete(m)
	case servicedef.MessageTypeError:
		if !r.started {
			r.pendingErrors = append(r.pendingErrors, m)
			return
		}
		r.remoteError(m)
	default:
		s.logger.Printf("ignoring %s message from remote %s", m, r.source.Name)
	}
}

func (r *remoteAggregator) addResult(test servicedef.TestSnapshot) {
	key := snapshotKey{test.Name, test.Index}
	if _, ok := r.results[key]; ok {
		return
	}
	r.results[key] = test
	r.suite.bus.PublishResult(ResultEvent{Origin: r.origin(), Test: test})
}

func (r *remoteAggregator) complete(m servicedef.Message) {
	s := r.suite
	status := servicedef.SuiteStatus{Status: servicedef.SuiteStatusOK}
	if m.Status != nil {
		status = *m.Status
	}
	// results that were not exported individually are still reported
	for _, t := range m.Tests {
		r.addResult(t)
	}
	if status.Status != servicedef.SuiteStatusOK {
		s.pinStatus(status.Status, status.Message.StringValue(), status.Stack.StringValue())
	}
	event := CompletionEvent{Origin: r.origin(), Tests: m.Tests, Status: status}
	r.completion = &event
	r.detach()
	s.bus.PublishCompletion(event)
	s.maybeComplete()
}

func (r *remoteAggregator) remoteError(m servicedef.Message) {
	s := r.suite
	message := fmt.Sprintf("Error in remote %s: %s", r.source.Name, m.Message.StringValue())
	if r.allowUncaught || s.allowUncaught {
		s.logger.Printf("ignoring %s", message)
		return
	}
	r.fail(message, m.Stack.StringValue())
}

func (r *remoteAggregator) closed(err error) {
	if !r.running {
		return
	}
	r.suite.logger.Printf("remote %s channel closed: %s", r.source.Name, err)
	r.fail(fmt.Sprintf("remote context %s closed before reporting completion", r.source.Name), "")
}

func (r *remoteAggregator) fail(message, stack string) {
	s := r.suite
	s.pinStatus(servicedef.SuiteStatusError, message, stack)
	r.detach()
	s.maybeComplete()
}

// detach stops the remote from counting as running and closes its channel.
func (r *remoteAggregator) detach() {
	if r.running {
		r.running = false
		close(r.done)
	}
	if r.detached {
		return
	}
	r.detached = true
	if r.cancel != nil {
		r.cancel()
	}
	if r.source.Channel == nil {
		return
	}
	if err := r.source.Channel.Close(); err != nil {
		r.suite.logger.Printf("error closing remote %s: %s", r.source.Name, err)
	}
}

func sameSnapshot(a, b servicedef.TestSnapshot) bool {
	return a.Name == b.Name && a.Index == b.Index && a.Phase == b.Phase && a.Status == b.Status &&
		a.Message == b.Message && a.Stack == b.Stack && a.Properties.Equal(b.Properties)
}
