package harness

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/launchdarkly/test-collector/framework"
	"github.com/launchdarkly/test-collector/servicedef"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	wsWriteTimeout      = time.Second * 5
	wsIncomingQueueSize = 100
)

// WebSocketChannel carries messages as JSON text frames over a websocket connection.
type WebSocketChannel struct {
	conn      *websocket.Conn
	incoming  chan wsIncoming
	closed    chan struct{}
	closeOnce sync.Once
	writeLock sync.Mutex
	logger    framework.Logger
}

type wsIncoming struct {
	message servicedef.Message
	err     error
}

// DialWebSocket connects to a websocket endpoint, such as one served by NewWebSocketHandler in
// another process.
func DialWebSocket(ctx context.Context, url string, logger framework.Logger) (*WebSocketChannel, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to %s", url)
	}
	return newWebSocketChannel(conn, logger), nil
}

// NewWebSocketHandler returns an HTTP handler that accepts websocket connections and calls serve
// for each one. The connection is closed when serve returns.
func NewWebSocketHandler(serve func(context.Context, *WebSocketChannel), logger framework.Logger) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if logger != nil {
				logger.Printf("websocket upgrade failed: %s", err)
			}
			return
		}
		ch := newWebSocketChannel(conn, logger)
		defer ch.Close()
		serve(r.Context(), ch)
	})
}

func newWebSocketChannel(conn *websocket.Conn, logger framework.Logger) *WebSocketChannel {
	if logger == nil {
		logger = framework.NullLogger()
	}
	c := &WebSocketChannel{
		conn:     conn,
		incoming: make(chan wsIncoming, wsIncomingQueueSize),
		closed:   make(chan struct{}),
		logger:   logger,
	}
	go c.readLoop()
	return c
}

func (c *WebSocketChannel) readLoop() {
	defer close(c.incoming)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = io.EOF
			}
			c.deliver(wsIncoming{err: err})
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		m, err := servicedef.DecodeMessage(data)
		if err != nil {
			c.logger.Printf("discarding invalid websocket message: %s", err)
			continue
		}
		if !c.deliver(wsIncoming{message: m}) {
			return
		}
	}
}

func (c *WebSocketChannel) deliver(item wsIncoming) bool {
	select {
	case c.incoming <- item:
		return true
	case <-c.closed:
		return false
	}
}

func (c *WebSocketChannel) Send(m servicedef.Message) error {
	data, err := servicedef.EncodeMessage(m)
	if err != nil {
		return err
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WebSocketChannel) Receive(ctx context.Context) (servicedef.Message, error) {
	select {
	case item, ok := <-c.incoming:
		if !ok {
			return servicedef.Message{}, io.EOF
		}
		return item.message, item.err
	case <-ctx.Done():
		return servicedef.Message{}, ctx.Err()
	}
}

// Close sends a normal closure frame and closes the connection.
func (c *WebSocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeLock.Lock()
		close(c.closed)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteTimeout))
		c.writeLock.Unlock()
		err = c.conn.Close()
	})
	return err
}
