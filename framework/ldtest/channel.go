package ldtest

import (
	"context"

	"github.com/launchdarkly/test-collector/servicedef"
)

// Channel is a bidirectional message channel to another execution context. Implementations are
// in the harness package.
type Channel interface {
	// Send delivers a message. It may be called from any goroutine.
	Send(servicedef.Message) error
	// Receive blocks until a message arrives, the channel is closed (io.EOF), or ctx is done.
	Receive(ctx context.Context) (servicedef.Message, error)
	// Close releases the channel. Pending and future Receive calls return io.EOF.
	Close() error
}

// Starter is implemented by channels that must be explicitly started before they deliver
// messages.
type Starter interface {
	Start() error
}
