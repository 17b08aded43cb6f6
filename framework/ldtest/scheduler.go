package ldtest

import (
	"sort"
	"sync"
	"time"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// TimeoutHandle identifies an armed deadline. The zero value means "nothing armed".
type TimeoutHandle uint64

// TimeoutScheduler arms and disarms deadline callbacks. The callback must be invoked on the
// suite's loop, and never after Disarm has been called for its handle.
type TimeoutScheduler interface {
	Arm(d time.Duration, onFire func()) TimeoutHandle
	Disarm(h TimeoutHandle)
}

// armMillis arms a deadline given in milliseconds; an undefined value means no deadline.
func armMillis(s TimeoutScheduler, ms ldvalue.OptionalInt, multiplier float64, onFire func()) TimeoutHandle {
	if !ms.IsDefined() {
		return 0
	}
	return s.Arm(scaleMillis(ms.IntValue(), multiplier), onFire)
}

func scaleMillis(ms int, multiplier float64) time.Duration {
	if multiplier <= 0 {
		multiplier = 1
	}
	return time.Duration(float64(ms) * multiplier * float64(time.Millisecond))
}

type loopScheduler struct {
	loop   *Loop
	lastID TimeoutHandle
	timers map[TimeoutHandle]*time.Timer
	lock   sync.Mutex
}

// NewLoopScheduler returns a TimeoutScheduler backed by real timers whose callbacks are posted
// onto the given loop.
func NewLoopScheduler(loop *Loop) TimeoutScheduler {
	return &loopScheduler{loop: loop, timers: make(map[TimeoutHandle]*time.Timer)}
}

func (s *loopScheduler) Arm(d time.Duration, onFire func()) TimeoutHandle {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.lastID++
	id := s.lastID
	s.timers[id] = time.AfterFunc(d, func() {
		s.loop.Post(func() {
			// the timer may have been disarmed after it fired but before this task ran
			if s.take(id) {
				onFire()
			}
		})
	})
	return id
}

func (s *loopScheduler) Disarm(h TimeoutHandle) {
	s.lock.Lock()
	t := s.timers[h]
	delete(s.timers, h)
	s.lock.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (s *loopScheduler) take(h TimeoutHandle) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.timers[h]; !ok {
		return false
	}
	delete(s.timers, h)
	return true
}

// ManualScheduler is a TimeoutScheduler driven by explicit calls to Advance. Callbacks run
// synchronously on the goroutine that calls Advance, which makes it suitable for deterministic
// tests of timeout behavior.
type ManualScheduler struct {
	now     time.Duration
	lastID  TimeoutHandle
	pending []manualTimer
}

type manualTimer struct {
	id       TimeoutHandle
	deadline time.Duration
	onFire   func()
}

func (m *ManualScheduler) Arm(d time.Duration, onFire func()) TimeoutHandle {
	m.lastID++
	m.pending = append(m.pending, manualTimer{id: m.lastID, deadline: m.now + d, onFire: onFire})
	return m.lastID
}

func (m *ManualScheduler) Disarm(h TimeoutHandle) {
	for i, t := range m.pending {
		if t.id == h {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

// Armed returns the number of deadlines that have not fired or been disarmed.
func (m *ManualScheduler) Armed() int {
	return len(m.pending)
}

// Advance moves the clock forward, firing every deadline that falls due in deadline order.
func (m *ManualScheduler) Advance(d time.Duration) {
	target := m.now + d
	for {
		sort.SliceStable(m.pending, func(i, j int) bool { return m.pending[i].deadline < m.pending[j].deadline })
		if len(m.pending) == 0 || m.pending[0].deadline > target {
			break
		}
		next := m.pending[0]
		m.pending = m.pending[1:]
		m.now = next.deadline
		next.onFire()
	}
	m.now = target
}
