package ldtest

import (
	"context"
	"errors"
	"io"

	"github.com/launchdarkly/test-collector/servicedef"
)

// Serve exports this suite's events to an observer on the other end of ch, which is typically
// a RemoteAggregator in another process. The observer receives nothing until it sends a
// getmessages request; it then receives every event exported so far, followed by new events as
// they are published. Serve returns when the observer closes the channel or ctx is done, and it
// keeps working after the suite has completed so that late observers can still catch up.
func (s *Suite) Serve(ctx context.Context, ch Channel) error {
	defer s.bus.RemoveObserver(ch)
	for {
		m, err := ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch m.Type {
		case servicedef.MessageTypeGetMessages:
			if err := s.bus.ReplayAndObserve(ch); err != nil {
				return err
			}
		case servicedef.MessageTypeConnect:
		default:
			s.logger.Printf("ignoring %s message from observer", m)
		}
	}
}
