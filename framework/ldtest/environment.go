package ldtest

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultHarnessTimeout is the suite deadline for a normal run.
	DefaultHarnessTimeout = time.Second * 10
	// LongHarnessTimeout is the suite deadline for a run declared as long.
	LongHarnessTimeout = time.Second * 60
)

// Environment is the small set of capabilities the hosting program supplies to a suite.
type Environment interface {
	// TestTimeout returns the suite-level deadline. Zero means no deadline.
	TestTimeout() time.Duration
	// NextDefaultName returns a new name for a test that was declared without one.
	NextDefaultName() string
	// AllResourcesLoaded returns true once everything the run depends on has been declared.
	AllResourcesLoaded() bool
	// OnAllResourcesLoaded registers a callback for when AllResourcesLoaded becomes true. The
	// callback may be invoked on any goroutine.
	OnAllResourcesLoaded(func())
}

// ResourceLoader is implemented by environments that Suite.Run can mark as fully loaded.
type ResourceLoader interface {
	MarkLoaded()
}

// BasicEnvironment is the Environment used by programs that have no external notion of
// resource loading: everything counts as loaded once MarkLoaded is called, which Suite.Run does
// when it starts.
type BasicEnvironment struct {
	timeout    time.Duration
	namePrefix string
	counter    int
	loaded     bool
	callbacks  []func()
	lock       sync.Mutex
}

// NewBasicEnvironment creates a BasicEnvironment. Default test names are namePrefix, then
// namePrefix followed by " 1", " 2", and so on.
func NewBasicEnvironment(timeout time.Duration, namePrefix string) *BasicEnvironment {
	if namePrefix == "" {
		namePrefix = "Untitled"
	}
	return &BasicEnvironment{timeout: timeout, namePrefix: namePrefix}
}

func (e *BasicEnvironment) TestTimeout() time.Duration {
	return e.timeout
}

func (e *BasicEnvironment) NextDefaultName() string {
	e.lock.Lock()
	defer e.lock.Unlock()
	name := e.namePrefix
	if e.counter > 0 {
		name = fmt.Sprintf("%s %d", e.namePrefix, e.counter)
	}
	e.counter++
	return name
}

func (e *BasicEnvironment) AllResourcesLoaded() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.loaded
}

func (e *BasicEnvironment) OnAllResourcesLoaded(cb func()) {
	e.lock.Lock()
	if !e.loaded {
		e.callbacks = append(e.callbacks, cb)
		e.lock.Unlock()
		return
	}
	e.lock.Unlock()
	cb()
}

// MarkLoaded flips AllResourcesLoaded to true and invokes the registered callbacks once.
func (e *BasicEnvironment) MarkLoaded() {
	e.lock.Lock()
	if e.loaded {
		e.lock.Unlock()
		return
	}
	e.loaded = true
	callbacks := e.callbacks
	e.callbacks = nil
	e.lock.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}
