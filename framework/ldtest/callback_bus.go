package ldtest

import (
	"fmt"
	"sync"

	"github.com/launchdarkly/test-collector/framework"
	"github.com/launchdarkly/test-collector/servicedef"
)

// Subscription identifies a listener added to a CallbackBus.
type Subscription struct {
	kind EventKind
	id   uint64
}

// Observer receives serialized events from a CallbackBus. Every Channel is an Observer.
type Observer interface {
	Send(servicedef.Message) error
}

type listener[E any] struct {
	id uint64
	fn func(E)
}

// CallbackBus delivers the four kinds of suite events to in-process listeners, in the order the
// listeners were added, and optionally forwards them in serialized form to external observers.
//
// Every forwarded message is also kept in a buffer, so that an observer that connects late can
// ask for a replay of everything forwarded so far. The buffer and the observer list may be used
// from any goroutine; listeners are always invoked on the suite's loop.
type CallbackBus struct {
	logger framework.Logger
	debug  bool

	lastID     uint64
	start      []listener[StartEvent]
	testState  []listener[TestStateEvent]
	result     []listener[ResultEvent]
	completion []listener[CompletionEvent]
	lock       sync.Mutex

	exported   map[EventKind]bool
	buffer     []servicedef.Message
	observers  []Observer
	exportLock sync.Mutex
}

// NewCallbackBus creates a CallbackBus that exports every event kind. If debug is true, a
// panicking listener is re-panicked after being logged instead of being swallowed.
func NewCallbackBus(logger framework.Logger, debug bool) *CallbackBus {
	if logger == nil {
		logger = framework.NullLogger()
	}
	b := &CallbackBus{logger: logger, debug: debug}
	b.SetExported(AllEventKinds())
	return b
}

func (b *CallbackBus) nextID() uint64 {
	b.lastID++
	return b.lastID
}

func (b *CallbackBus) OnStart(fn func(StartEvent)) Subscription {
	b.lock.Lock()
	defer b.lock.Unlock()
	id := b.nextID()
	b.start = append(b.start, listener[StartEvent]{id, fn})
	return Subscription{EventStart, id}
}

func (b *CallbackBus) OnTestState(fn func(TestStateEvent)) Subscription {
	b.lock.Lock()
	defer b.lock.Unlock()
	id := b.nextID()
	b.testState = append(b.testState, listener[TestStateEvent]{id, fn})
	return Subscription{EventTestState, id}
}

func (b *CallbackBus) OnResult(fn func(ResultEvent)) Subscription {
	b.lock.Lock()
	defer b.lock.Unlock()
	id := b.nextID()
	b.result = append(b.result, listener[ResultEvent]{id, fn})
	return Subscription{EventResult, id}
}

func (b *CallbackBus) OnCompletion(fn func(CompletionEvent)) Subscription {
	b.lock.Lock()
	defer b.lock.Unlock()
	id := b.nextID()
	b.completion = append(b.completion, listener[CompletionEvent]{id, fn})
	return Subscription{EventCompletion, id}
}

// Unsubscribe removes a listener. Removing one that is already gone does nothing.
func (b *CallbackBus) Unsubscribe(sub Subscription) {
	b.lock.Lock()
	defer b.lock.Unlock()
	switch sub.kind {
	case EventStart:
		b.start = without(b.start, sub.id)
	case EventTestState:
		b.testState = without(b.testState, sub.id)
	case EventResult:
		b.result = without(b.result, sub.id)
	case EventCompletion:
		b.completion = without(b.completion, sub.id)
	}
}

func without[E any](ls []listener[E], id uint64) []listener[E] {
	ret := make([]listener[E], 0, len(ls))
	for _, l := range ls {
		if l.id != id {
			ret = append(ret, l)
		}
	}
	return ret
}

func (b *CallbackBus) PublishStart(e StartEvent) {
	b.lock.Lock()
	ls := b.start
	b.lock.Unlock()
	dispatch(b, EventStart, ls, e)
	b.export(EventStart, e.Origin, e.message())
}

func (b *CallbackBus) PublishTestState(e TestStateEvent) {
	b.lock.Lock()
	ls := b.testState
	b.lock.Unlock()
	dispatch(b, EventTestState, ls, e)
	b.export(EventTestState, e.Origin, e.message())
}

func (b *CallbackBus) PublishResult(e ResultEvent) {
	b.lock.Lock()
	ls := b.result
	b.lock.Unlock()
	dispatch(b, EventResult, ls, e)
	b.export(EventResult, e.Origin, e.message())
}

func (b *CallbackBus) PublishCompletion(e CompletionEvent) {
	b.lock.Lock()
	ls := b.completion
	b.lock.Unlock()
	dispatch(b, EventCompletion, ls, e)
	b.export(EventCompletion, e.Origin, e.message())
}

func dispatch[E any](b *CallbackBus, kind EventKind, ls []listener[E], e E) {
	for _, l := range ls {
		b.call(kind, func() { l.fn(e) })
	}
}

func (b *CallbackBus) call(kind EventKind, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("%s listener panicked: %v", kind, r)
			if b.debug {
				panic(r)
			}
		}
	}()
	fn()
}

// SetExported selects which event kinds are forwarded to observers and kept for replay. Events
// that were already forwarded stay in the replay buffer.
func (b *CallbackBus) SetExported(kinds []EventKind) {
	b.exportLock.Lock()
	defer b.exportLock.Unlock()
	b.exported = make(map[EventKind]bool)
	for _, k := range kinds {
		b.exported[k] = true
	}
}

// IsExported returns true if events of the given kind are currently being forwarded.
func (b *CallbackBus) IsExported(kind EventKind) bool {
	b.exportLock.Lock()
	defer b.exportLock.Unlock()
	return b.exported[kind]
}

func (b *CallbackBus) export(kind EventKind, origin Origin, m servicedef.Message) {
	// A remote context's own start and completion describe that context, not this one; its
	// tests are forwarded so that an outer aggregator sees them as part of this suite.
	if origin != "" && (kind == EventStart || kind == EventCompletion) {
		return
	}
	b.exportLock.Lock()
	defer b.exportLock.Unlock()
	if !b.exported[kind] {
		return
	}
	b.buffer = append(b.buffer, m)
	for _, o := range b.observers {
		if err := o.Send(m); err != nil {
			b.logger.Printf("error sending %s to observer: %s", m, err)
		}
	}
}

// AddObserver starts forwarding exported events to an observer. It does not replay earlier
// events; use Replay for that.
func (b *CallbackBus) AddObserver(o Observer) {
	b.exportLock.Lock()
	defer b.exportLock.Unlock()
	b.observers = append(b.observers, o)
}

func (b *CallbackBus) RemoveObserver(o Observer) {
	b.exportLock.Lock()
	defer b.exportLock.Unlock()
	for i, existing := range b.observers {
		if existing == o {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			return
		}
	}
}

// Replay sends every message forwarded so far to a single observer, in the original order.
func (b *CallbackBus) Replay(o Observer) error {
	b.exportLock.Lock()
	defer b.exportLock.Unlock()
	for _, m := range b.buffer {
		if err := o.Send(m); err != nil {
			return fmt.Errorf("replay of %s failed: %w", m, err)
		}
	}
	return nil
}

// ReplayAndObserve replays the buffer to an observer and then, if it is not already an
// observer, adds it, so that it sees every exported event in order with nothing missed.
func (b *CallbackBus) ReplayAndObserve(o Observer) error {
	b.exportLock.Lock()
	defer b.exportLock.Unlock()
	for _, m := range b.buffer {
		if err := o.Send(m); err != nil {
			return fmt.Errorf("replay of %s failed: %w", m, err)
		}
	}
	for _, existing := range b.observers {
		if existing == o {
			return nil
		}
	}
	b.observers = append(b.observers, o)
	return nil
}

// Buffered returns a copy of the replay buffer.
func (b *CallbackBus) Buffered() []servicedef.Message {
	b.exportLock.Lock()
	defer b.exportLock.Unlock()
	return append([]servicedef.Message(nil), b.buffer...)
}
