package harness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/launchdarkly/test-collector/framework"
	"github.com/launchdarkly/test-collector/servicedef"
)

const callbackQueueSize = 100

// CallbackChannel is a channel to a suite running inside the test service. Messages from the
// suite arrive as POST requests to a mock endpoint, at a path that is the message's sequence
// counter; messages to the suite are POSTed to the entity's resource URL.
type CallbackChannel struct {
	entity    *TestServiceEntity
	endpoint  *MockEndpoint
	queue     *MessageSortingQueue
	logger    framework.Logger
	closeOnce sync.Once
}

// NewCallbackChannel asks the test service to start a suite that reports back to a new mock
// endpoint. The CallbackURL in params is filled in by this method.
func (h *TestHarness) NewCallbackChannel(params servicedef.CreateSuiteParams, logger framework.Logger) (*CallbackChannel, error) {
	if logger == nil {
		logger = h.logger
	}
	c := &CallbackChannel{
		queue:  NewMessageSortingQueue(callbackQueueSize),
		logger: logger,
	}
	c.endpoint = h.NewMockEndpoint(http.HandlerFunc(c.serveCallback), logger)
	params.CallbackURL = c.endpoint.BaseURL()
	entity, err := h.NewTestServiceEntity(params, params.Tag, logger)
	if err != nil {
		c.endpoint.Close()
		c.queue.Close()
		return nil, err
	}
	c.entity = entity
	return c, nil
}

func (c *CallbackChannel) serveCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		c.logger.Printf("error reading callback request body: %s", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(r.URL.Path) > 1 {
		if counter, err := strconv.Atoi(r.URL.Path[1:]); err == nil && counter > 0 {
			c.queue.Accept(counter, data)
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}
	c.logger.Printf("callback request had invalid path %q", r.URL.Path)
	w.WriteHeader(http.StatusBadRequest)
}

func (c *CallbackChannel) Send(m servicedef.Message) error {
	return c.entity.SendMessage(m)
}

func (c *CallbackChannel) Receive(ctx context.Context) (servicedef.Message, error) {
	for {
		select {
		case data, ok := <-c.queue.C:
			if !ok {
				return servicedef.Message{}, io.EOF
			}
			m, err := servicedef.DecodeMessage(data)
			if err != nil {
				c.logger.Printf("discarding invalid message from test service: %s", err)
				continue
			}
			c.logger.Printf("Received: %s", m)
			return m, nil
		case <-ctx.Done():
			return servicedef.Message{}, ctx.Err()
		}
	}
}

// Close disposes of the suite in the test service and stops accepting its messages.
func (c *CallbackChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if e := c.entity.Close(); e != nil {
			err = fmt.Errorf("error disposing of test service entity: %w", e)
		}
		c.endpoint.Close()
		c.queue.Close()
	})
	return err
}
