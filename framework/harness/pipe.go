package harness

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/launchdarkly/test-collector/servicedef"
)

// ErrClosed is returned by Send on a closed channel.
var ErrClosed = errors.New("channel is closed")

type pipeShared struct {
	closed bool
	lock   sync.Mutex
}

// PipeEnd is one end of an in-memory channel created by NewPipe. Sends never block.
type PipeEnd struct {
	shared *pipeShared
	peer   *PipeEnd
	inbox  []servicedef.Message
	wake   chan struct{}
}

// NewPipe returns the two ends of an in-memory bidirectional channel. Closing either end closes
// both; messages that were already sent can still be received.
func NewPipe() (*PipeEnd, *PipeEnd) {
	shared := &pipeShared{}
	a := &PipeEnd{shared: shared, wake: make(chan struct{}, 1)}
	b := &PipeEnd{shared: shared, wake: make(chan struct{}, 1)}
	a.peer, b.peer = b, a
	return a, b
}

func (p *PipeEnd) Send(m servicedef.Message) error {
	p.shared.lock.Lock()
	if p.shared.closed {
		p.shared.lock.Unlock()
		return ErrClosed
	}
	p.peer.inbox = append(p.peer.inbox, m)
	p.shared.lock.Unlock()
	notify(p.peer.wake)
	return nil
}

func (p *PipeEnd) Receive(ctx context.Context) (servicedef.Message, error) {
	for {
		p.shared.lock.Lock()
		if len(p.inbox) > 0 {
			m := p.inbox[0]
			p.inbox = p.inbox[1:]
			p.shared.lock.Unlock()
			return m, nil
		}
		closed := p.shared.closed
		p.shared.lock.Unlock()
		if closed {
			return servicedef.Message{}, io.EOF
		}
		select {
		case <-p.wake:
		case <-ctx.Done():
			return servicedef.Message{}, ctx.Err()
		}
	}
}

func (p *PipeEnd) Close() error {
	p.shared.lock.Lock()
	p.shared.closed = true
	p.shared.lock.Unlock()
	notify(p.wake)
	notify(p.peer.wake)
	return nil
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
