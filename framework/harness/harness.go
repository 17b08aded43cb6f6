package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/launchdarkly/test-collector/framework"
	"github.com/launchdarkly/test-collector/servicedef"
)

const endpointPathPrefix = "/endpoints/"
const httpListenerTimeout = time.Second * 10

// TestHarness talks to an external test service, which runs suites on our behalf, and hosts the
// mock endpoints that the service posts messages back to.
type TestHarness struct {
	serviceURL      string
	externalBaseURL string
	serviceInfo     servicedef.StatusResponse
	endpoints       map[string]*MockEndpoint
	lastEndpointID  int
	logger          framework.Logger
	lock            sync.Mutex
}

// NewTestHarness creates a TestHarness instance, and verifies that the test service is
// responding by querying its status resource. It also starts an HTTP listener on the specified
// port to receive callback requests.
func NewTestHarness(
	serviceURL string,
	externalHostname string,
	port int,
	statusQueryTimeout time.Duration,
	debugLogger framework.Logger,
	startupOutput io.Writer,
) (*TestHarness, error) {
	h := newTestHarness(serviceURL, fmt.Sprintf("http://%s:%d", externalHostname, port), debugLogger)

	info, err := queryTestServiceInfo(serviceURL, statusQueryTimeout, startupOutput)
	if err != nil {
		return nil, err
	}
	h.serviceInfo = info

	if err = startServer(port, h); err != nil {
		return nil, err
	}

	return h, nil
}

func newTestHarness(serviceURL, externalBaseURL string, debugLogger framework.Logger) *TestHarness {
	if debugLogger == nil {
		debugLogger = framework.NullLogger()
	}
	return &TestHarness{
		serviceURL:      strings.TrimSuffix(serviceURL, "/"),
		externalBaseURL: externalBaseURL,
		endpoints:       make(map[string]*MockEndpoint),
		logger:          debugLogger,
	}
}

func (h *TestHarness) ServiceInfo() servicedef.StatusResponse {
	return h.serviceInfo
}

func (h *TestHarness) ServiceHasCapability(desired string) bool {
	for _, capability := range h.serviceInfo.Capabilities {
		if capability == desired {
			return true
		}
	}
	return false
}

// ServeHTTP routes requests for /endpoints/{id}/... to the corresponding mock endpoint.
func (h *TestHarness) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method == "HEAD" {
		w.WriteHeader(200) // we use this to test whether our own listener is active yet
		return
	}

	if !strings.HasPrefix(req.URL.Path, endpointPathPrefix) {
		h.logger.Printf("Received request for unrecognized URL path %s", req.URL.Path)
		w.WriteHeader(404)
		return
	}
	path := strings.TrimPrefix(req.URL.Path, endpointPathPrefix)
	var endpointID string
	slashPos := strings.Index(path, "/")
	if slashPos >= 0 {
		endpointID = path[0:slashPos]
		path = path[slashPos:]
	} else {
		endpointID = path
		path = ""
	}

	h.lock.Lock()
	e := h.endpoints[endpointID]
	h.lock.Unlock()
	if e == nil {
		h.logger.Printf("Received request for unrecognized endpoint %s", req.URL.Path)
		w.WriteHeader(404)
		return
	}

	var body []byte
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			h.logger.Printf("Unexpected error trying to read request body: %s", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body = data
	}

	ctx, cancel, ok := e.track(req.Context())
	if !ok {
		w.WriteHeader(404)
		return
	}
	defer e.untrack(cancel)

	transformedReq := req.WithContext(ctx)
	url := *req.URL
	url.Path = path
	transformedReq.URL = &url
	if body != nil {
		transformedReq.Body = io.NopCloser(bytes.NewBuffer(body))
	}

	e.handler.ServeHTTP(w, transformedReq)
}

func startServer(port int, handler http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: httpListenerTimeout,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()

	// Wait till the server is definitely listening for requests before we run any tests
	ctx, cancel := context.WithTimeout(context.Background(), httpListenerTimeout)
	defer cancel()
	ticker := time.NewTicker(time.Millisecond * 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("could not detect own listener at %s", server.Addr)
		case <-ticker.C:
			resp, err := http.DefaultClient.Head(fmt.Sprintf("http://localhost:%d", port))
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == 200 {
					return nil
				}
			}
		}
	}
}
