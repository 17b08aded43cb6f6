package ldtest

import (
	"context"
	"runtime/debug"
	"sync"
)

// Loop is the single logical thread that every suite and test mutation runs on. Work arrives
// as tasks posted from any goroutine (timers, remote channel readers, StepFunc callbacks) and
// is executed one at a time, in posting order, by whichever goroutine is running the loop.
//
// Code that runs before Run is called, on the goroutine that will call Run, is also on the
// loop.
type Loop struct {
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
	onPanic func(value interface{}, stack []byte)
	lock    sync.Mutex
}

// NewLoop creates a Loop. If onPanic is nil, a panicking task crashes the program.
func NewLoop(onPanic func(value interface{}, stack []byte)) *Loop {
	return &Loop{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		onPanic: onPanic,
	}
}

// Post schedules a task. It never blocks. It returns false if the loop was already stopped, in
// which case the task will never run.
func (l *Loop) Post(task func()) bool {
	l.lock.Lock()
	if l.stopped {
		l.lock.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.lock.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop makes Run return after the current task. Tasks still queued are discarded.
func (l *Loop) Stop() {
	l.lock.Lock()
	if !l.stopped {
		l.stopped = true
		close(l.done)
	}
	l.queue = nil
	l.lock.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done returns a channel that is closed when the loop is stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stopped returns true if Stop has been called.
func (l *Loop) Stopped() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.stopped
}

// Run executes tasks until Stop is called or the context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if l.Drain() == 0 {
			if l.Stopped() {
				return nil
			}
			select {
			case <-l.wake:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Drain runs every task that is currently queued, plus any that those tasks post, on the
// calling goroutine. It returns the number of tasks run.
func (l *Loop) Drain() int {
	n := 0
	for {
		l.lock.Lock()
		if l.stopped || len(l.queue) == 0 {
			l.lock.Unlock()
			return n
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.lock.Unlock()
		l.runTask(task)
		n++
	}
}

func (l *Loop) runTask(task func()) {
	if l.onPanic != nil {
		defer func() {
			if r := recover(); r != nil {
				l.onPanic(r, debug.Stack())
			}
		}()
	}
	task()
}
