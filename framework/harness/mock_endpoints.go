package harness

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/launchdarkly/test-collector/framework"
)

// MockEndpoint represents an endpoint that can receive requests.
type MockEndpoint struct {
	owner    *TestHarness
	id       string
	basePath string
	handler  http.Handler
	cancels  []*context.CancelFunc
	closed   bool
	logger   framework.Logger
	lock     sync.Mutex
	closing  sync.Once
}

// NewMockEndpoint adds a new endpoint that can receive requests.
//
// The specified handler will be called for all incoming requests to the endpoint's
// base URL or any subpath of it. For instance, if the generated base URL (as reported
// by MockEndpoint.BaseURL()) is http://localhost:8111/endpoints/3, then it can also
// receive requests to http://localhost:8111/endpoints/3/some/subpath.
//
// When the handler is called, the test harness rewrites the request URL first so that
// the handler sees only the subpath. It also attaches a Context to the request whose
// Done channel will be closed if Close is called on the endpoint.
func (h *TestHarness) NewMockEndpoint(handler http.Handler, logger framework.Logger) *MockEndpoint {
	if logger == nil {
		logger = h.logger
	}
	e := &MockEndpoint{
		owner:   h,
		handler: handler,
		logger:  logger,
	}
	h.lock.Lock()
	h.lastEndpointID++
	e.id = strconv.Itoa(h.lastEndpointID)
	e.basePath = endpointPathPrefix + e.id
	h.endpoints[e.id] = e
	h.lock.Unlock()

	return e
}

// BaseURL returns the URL of the mock endpoint as seen by the test service.
func (e *MockEndpoint) BaseURL() string {
	return e.owner.externalBaseURL + e.basePath
}

func (e *MockEndpoint) track(parent context.Context) (context.Context, *context.CancelFunc, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	ptr := &cancel
	e.cancels = append(e.cancels, ptr)
	return ctx, ptr, true
}

func (e *MockEndpoint) untrack(cancel *context.CancelFunc) {
	e.lock.Lock()
	for i, c := range e.cancels {
		if c == cancel { // can't compare functions with ==, but can compare pointers
			e.cancels = append(e.cancels[:i], e.cancels[i+1:]...)
			break
		}
	}
	e.lock.Unlock()
	(*cancel)()
}

// Close unregisters the endpoint. Any subsequent requests to it will receive 404 errors.
// It also cancels the Context for every active request to that endpoint.
func (e *MockEndpoint) Close() {
	e.closing.Do(func() {
		e.owner.lock.Lock()
		delete(e.owner.endpoints, e.id)
		e.owner.lock.Unlock()

		e.lock.Lock()
		cancellers := e.cancels
		e.cancels = nil
		e.closed = true
		e.lock.Unlock()

		for _, cancel := range cancellers {
			(*cancel)()
		}
	})
}
