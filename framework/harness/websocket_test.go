package harness

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/launchdarkly/test-collector/servicedef"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketChannelExchangesMessages(t *testing.T) {
	handler := NewWebSocketHandler(func(ctx context.Context, ch *WebSocketChannel) {
		for {
			m, err := ch.Receive(ctx)
			if err != nil {
				return
			}
			if m.Type == servicedef.MessageTypeGetMessages {
				_ = ch.Send(servicedef.Message{Type: servicedef.MessageTypeStart})
			}
		}
	}, nil)

	httphelpers.WithServer(handler, func(server *httptest.Server) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		ch, err := DialWebSocket(ctx, wsURL(server), nil)
		require.NoError(t, err)
		defer ch.Close()

		require.NoError(t, ch.Send(servicedef.Message{Type: servicedef.MessageTypeGetMessages}))
		m, err := ch.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, servicedef.MessageTypeStart, m.Type)
	})
}

func TestWebSocketChannelReportsEOFWhenPeerCloses(t *testing.T) {
	handler := NewWebSocketHandler(func(ctx context.Context, ch *WebSocketChannel) {
		_ = ch.Send(servicedef.Message{Type: servicedef.MessageTypeStart})
	}, nil)

	httphelpers.WithServer(handler, func(server *httptest.Server) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		ch, err := DialWebSocket(ctx, wsURL(server), nil)
		require.NoError(t, err)
		defer ch.Close()

		m, err := ch.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, servicedef.MessageTypeStart, m.Type)
		_, err = ch.Receive(ctx)
		assert.Equal(t, io.EOF, err)
	})
}

func TestWebSocketChannelSendAfterClose(t *testing.T) {
	handler := NewWebSocketHandler(func(ctx context.Context, ch *WebSocketChannel) {
		_, _ = ch.Receive(ctx)
	}, nil)

	httphelpers.WithServer(handler, func(server *httptest.Server) {
		ch, err := DialWebSocket(context.Background(), wsURL(server), nil)
		require.NoError(t, err)
		require.NoError(t, ch.Close())
		assert.Equal(t, ErrClosed, ch.Send(servicedef.Message{Type: servicedef.MessageTypeStart}))
		_, err = ch.Receive(context.Background())
		assert.Equal(t, io.EOF, err)
	})
}

func TestDialWebSocketFailure(t *testing.T) {
	httphelpers.WithServer(httphelpers.HandlerWithStatus(404), func(server *httptest.Server) {
		_, err := DialWebSocket(context.Background(), wsURL(server), nil)
		assert.Error(t, err)
	})
}
