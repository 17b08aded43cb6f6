package main

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/launchdarkly/test-collector/framework"
	"github.com/launchdarkly/test-collector/framework/harness"
	"github.com/launchdarkly/test-collector/framework/ldtest"
	"github.com/launchdarkly/test-collector/servicedef"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withRemoteSuite serves a completed suite over a websocket endpoint, the way another
// test-collector would with --export-addr.
func withRemoteSuite(t *testing.T, declare func(s *ldtest.Suite), action func(url string)) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	inner := ldtest.NewSuite(ldtest.SuiteConfig{})
	declare(inner)
	_, err := inner.Run(ctx)
	require.NoError(t, err)

	handler := harness.NewWebSocketHandler(func(ctx context.Context, ch *harness.WebSocketChannel) {
		_ = inner.Serve(ctx, ch)
	}, nil)
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		action("ws" + strings.TrimPrefix(server.URL, "http"))
	})
}

func collectorParams(remotes ...remoteConfig) commandParams {
	return commandParams{
		config:         collectorConfig{Remotes: remotes},
		harnessTimeout: time.Second * 5,
	}
}

func runCollector(t *testing.T, params commandParams) (*collector, framework.Results) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	c := newCollector(params, collectorOptions{})
	results, err := c.run(ctx)
	require.NoError(t, err)
	return c, results
}

func resultNames(results framework.Results) []string {
	var names []string
	for _, r := range results.Tests {
		names = append(names, r.TestID.String()+" "+r.Test.Status.String())
	}
	return names
}

func TestCollectorAggregatesRemoteSuite(t *testing.T) {
	withRemoteSuite(t, func(s *ldtest.Suite) {
		s.Test("a", func(*ldtest.TestCase) {})
		s.Test("b", func(*ldtest.TestCase) {})
	}, func(url string) {
		c, results := runCollector(t, collectorParams(remoteConfig{Name: "inner", URL: url}))

		assert.True(t, results.OK())
		assert.Equal(t, servicedef.SuiteStatusOK, results.Status.Status)
		assert.Equal(t, []string{"connect inner PASS", "inner/a PASS", "inner/b PASS"}, resultNames(results))
		assert.Len(t, c.failedConnections(), 0)
	})
}

func TestCollectorReportsRemoteFailures(t *testing.T) {
	withRemoteSuite(t, func(s *ldtest.Suite) {
		s.Test("a", func(t *ldtest.TestCase) { t.Errorf("broken") })
	}, func(url string) {
		c, results := runCollector(t, collectorParams(remoteConfig{Name: "inner", URL: url}))

		assert.False(t, results.OK())
		assert.Equal(t, servicedef.SuiteStatusOK, results.Status.Status)
		require.Len(t, results.Failures, 1)
		assert.Equal(t, "inner/a", results.Failures[0].TestID.String())
		assert.Equal(t, "broken", results.Failures[0].Test.Message.StringValue())
		assert.Equal(t, []string{"connect inner"}, c.failedConnections())
	})
}

func TestCollectorConnectionFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "ws://" + listener.Addr().String() + "/"
	require.NoError(t, listener.Close())

	c, results := runCollector(t, collectorParams(remoteConfig{Name: "gone", URL: url}))

	assert.False(t, results.OK())
	require.Len(t, results.Failures, 1)
	assert.Equal(t, "connect gone", results.Failures[0].TestID.String())
	assert.Contains(t, results.Failures[0].Test.Message.StringValue(), "could not connect")
	assert.Equal(t, []string{"connect gone"}, c.failedConnections())
}

func TestCollectorFilterSkipsRemote(t *testing.T) {
	params := collectorParams(remoteConfig{Name: "skipped", URL: "ws://127.0.0.1:1/"})
	require.NoError(t, params.filters.MustNotMatch.Set("skipped"))

	_, results := runCollector(t, params)
	assert.True(t, results.OK())
	assert.Equal(t, []string{"connect skipped NOTRUN"}, resultNames(results))
}

func TestCollectorExportsAggregatedEvents(t *testing.T) {
	withRemoteSuite(t, func(s *ldtest.Suite) {
		s.Test("a", func(*ldtest.TestCase) {})
	}, func(url string) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		exportAddr := listener.Addr().String()
		require.NoError(t, listener.Close())

		params := collectorParams(remoteConfig{Name: "inner", URL: url})
		params.exportAddr = exportAddr
		params.linger = time.Second * 5

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		c := newCollector(params, collectorOptions{})
		done := make(chan error, 1)
		go func() {
			_, err := c.run(ctx)
			done <- err
		}()

		var ch *harness.WebSocketChannel
		require.Eventually(t, func() bool {
			ch, err = harness.DialWebSocket(ctx, "ws://"+exportAddr+"/", nil)
			return err == nil
		}, time.Second*5, time.Millisecond*20)
		defer ch.Close()
		require.NoError(t, ch.Send(servicedef.Message{Type: servicedef.MessageTypeGetMessages}))

		var types []string
		var remoteResults []string
		for {
			m, err := ch.Receive(ctx)
			require.NoError(t, err)
			types = append(types, m.Type)
			if m.Type == servicedef.MessageTypeResult {
				remoteResults = append(remoteResults, m.Test.Name)
			}
			if m.Type == servicedef.MessageTypeComplete {
				require.NotNil(t, m.Status)
				assert.Equal(t, servicedef.SuiteStatusOK, m.Status.Status)
				break
			}
		}
		assert.Equal(t, servicedef.MessageTypeStart, types[0])
		assert.Equal(t, []string{"connect inner", "a"}, remoteResults)

		cancel()
		assert.NoError(t, <-done)
	})
}
