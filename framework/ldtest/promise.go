package ldtest

import (
	"errors"

	"github.com/launchdarkly/test-collector/servicedef"
)

type promiseEntry struct {
	test *TestCase
	body func(*TestCase) <-chan error
}

// PromiseTest declares a test whose body starts asynchronous work and returns a channel that
// delivers its outcome: nil for success, an error for failure. Closing the channel without
// sending counts as success. If body returns a nil channel the test fails.
//
// Promise tests run one at a time, in the order they were declared; each one starts when the
// previous one completes.
func (s *Suite) PromiseTest(name string, body func(*TestCase) <-chan error, options ...TestOption) *TestCase {
	t := s.newTestCase(name, options)
	if !s.register(t) {
		return t
	}
	s.promises = append(s.promises, &promiseEntry{test: t, body: body})
	s.nextPromise()
	return t
}

func (s *Suite) nextPromise() {
	for !s.promiseBusy && len(s.promises) > 0 && !s.completed {
		entry := s.promises[0]
		s.promises = s.promises[1:]
		t := entry.test
		if t.phase == servicedef.TestPhaseComplete {
			continue
		}
		s.promiseBusy = true
		t.addInternalCleanup(func() {
			s.promiseBusy = false
			s.loop.Post(s.nextPromise)
		})
		var ch <-chan error
		t.Step(func(t *TestCase) {
			ch = entry.body(t)
			if ch == nil {
				t.Fail(errors.New("promise_test: test body must return a channel"))
			}
		})
		if ch == nil || t.phase == servicedef.TestPhaseComplete {
			continue
		}
		go s.awaitPromise(t, ch)
	}
}

func (s *Suite) awaitPromise(t *TestCase, ch <-chan error) {
	var err error
	select {
	case e, ok := <-ch:
		if ok {
			err = e
		}
	case <-s.loop.Done():
		return
	}
	s.loop.Post(func() {
		t.Step(func(t *TestCase) {
			if err != nil {
				t.Fail(err)
				return
			}
			t.Done()
		})
	})
}
