package harness

import (
	"sort"
	"sync"
)

// MessageSortingQueue delivers messages that arrive with a 1-based sequence counter in counter
// order, holding back any that arrive early. The test service posts each message in a separate
// HTTP request, so requests can be handled out of order.
type MessageSortingQueue struct {
	C           chan []byte
	lastCounter int
	deferred    []deferredMessage
	closed      bool
	done        chan struct{}
	lock        sync.Mutex
	closeOnce   sync.Once
}

type deferredMessage struct {
	counter int
	message []byte
}

func NewMessageSortingQueue(channelSize int) *MessageSortingQueue {
	return &MessageSortingQueue{C: make(chan []byte, channelSize), done: make(chan struct{})}
}

// Accept adds a message. It blocks while C is full. Messages accepted after Close, and repeats
// of counters that were already delivered, are dropped.
func (q *MessageSortingQueue) Accept(counter int, message []byte) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed || counter <= q.lastCounter {
		return
	}
	if counter > q.lastCounter+1 {
		q.deferred = append(q.deferred, deferredMessage{counter: counter, message: message})
		sort.Slice(q.deferred, func(i, j int) bool { return q.deferred[i].counter < q.deferred[j].counter })
		return
	}
	if !q.push(message) {
		return
	}
	q.lastCounter = counter
	for len(q.deferred) > 0 {
		next := q.deferred[0]
		if next.counter != q.lastCounter+1 {
			break
		}
		if !q.push(next.message) {
			return
		}
		q.deferred = q.deferred[1:]
		q.lastCounter++
	}
}

func (q *MessageSortingQueue) push(message []byte) bool {
	select {
	case q.C <- message:
		return true
	case <-q.done:
		return false
	}
}

func (q *MessageSortingQueue) Deferred() [][]byte {
	q.lock.Lock()
	ret := make([][]byte, 0, len(q.deferred))
	for _, d := range q.deferred {
		ret = append(ret, d.message)
	}
	q.lock.Unlock()
	return ret
}

// Close closes C after any pending Accept has given up.
func (q *MessageSortingQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.lock.Lock()
		q.closed = true
		q.deferred = nil
		close(q.C)
		q.lock.Unlock()
	})
}
