package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/launchdarkly/test-collector/framework"
	"github.com/launchdarkly/test-collector/framework/harness"
	"github.com/launchdarkly/test-collector/framework/ldtest"
	"github.com/launchdarkly/test-collector/framework/metrics"
	"github.com/launchdarkly/test-collector/servicedef"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	connectTestPrefix = "connect "
	serverReadTimeout = time.Second * 10
)

// collector aggregates every configured remote context into one local suite. For each remote
// there is a local test that passes once the remote's channel is open; the remote's own tests
// are then reported under the remote's name.
type collector struct {
	params      commandParams
	suite       *ldtest.Suite
	testHarness *harness.TestHarness
	logger      framework.Logger
	results     framework.Results
	listeners   map[string]net.Listener
}

type collectorOptions struct {
	testLogger  ldtest.TestLogger
	debugLogger framework.Logger
	testHarness *harness.TestHarness
	scheduler   ldtest.TimeoutScheduler
}

func newCollector(params commandParams, options collectorOptions) *collector {
	logger := options.debugLogger
	if logger == nil {
		logger = framework.NullLogger()
	}
	c := &collector{
		params:      params,
		testHarness: options.testHarness,
		logger:      logger,
		listeners:   make(map[string]net.Listener),
	}
	c.suite = ldtest.NewSuite(ldtest.SuiteConfig{
		Environment: ldtest.NewBasicEnvironment(params.harnessTimeout, ""),
		Scheduler:   options.scheduler,
		TestTimeout: optionalMillis(params.config.TestTimeoutMS),
		Filter:      params.filters.AsFilter,
		TestLogger:  options.testLogger,
		DebugLogger: logger,
		Debug:       params.debugAll,
	})
	c.suite.Bus().OnResult(func(e ldtest.ResultEvent) {
		if e.Origin != "" {
			c.results.Add(e.Origin, e.Test)
		}
	})
	return c
}

// declare sets up the suite and declares one connection test per remote. It must be called on
// the goroutine that calls run.
func (c *collector) declare(ctx context.Context) {
	c.suite.Setup(nil, propertiesValue(c.params.config.Properties))
	for _, r := range c.params.config.Remotes {
		r := r
		c.suite.AsyncTest(connectTestPrefix+r.Name, func(t *ldtest.TestCase) {
			var channel ldtest.Channel
			var err error
			attach := func(t *ldtest.TestCase) {
				t.Record(err)
				require.NoError(t, err)
				kind, _ := r.channelKind()
				c.suite.AttachRemote(ldtest.RemoteSource{Kind: kind, Name: r.Name, Channel: channel})
				t.Done()
			}
			go func() {
				channel, err = c.openChannel(ctx, r)
				if !c.suite.Loop().Post(func() { t.Step(attach) }) && channel != nil {
					_ = channel.Close()
				}
			}()
		}, ldtest.WithProperties(r.properties()))
	}
}

func (c *collector) openChannel(ctx context.Context, r remoteConfig) (ldtest.Channel, error) {
	logger := framework.LoggerWithPrefix(c.logger, "["+r.Name+"] ")
	if r.Service {
		if c.testHarness == nil {
			return nil, errors.New("no test service is configured")
		}
		return c.testHarness.NewCallbackChannel(servicedef.CreateSuiteParams{
			Tag:        r.Name,
			Properties: r.properties(),
			TimeoutMS:  optionalMillis(r.TimeoutMS),
		}, logger)
	}
	dialCtx, cancel := context.WithTimeout(ctx, statusQueryTimeout)
	defer cancel()
	return harness.DialWebSocket(dialCtx, r.URL, logger)
}

// run drives the suite to completion while serving the export and metrics endpoints, and
// returns the combined results of the local and remote tests.
func (c *collector) run(ctx context.Context) (framework.Results, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if c.params.metricsAddr != "" {
		registry := prometheus.NewRegistry()
		metrics.New(registry, c.suite.RunID()).Attach(c.suite.Bus())
		handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		if err := c.serve(gctx, g, "metrics", c.params.metricsAddr, handler); err != nil {
			return c.results, err
		}
	}
	if c.params.exportAddr != "" {
		handler := harness.NewWebSocketHandler(func(_ context.Context, ch *harness.WebSocketChannel) {
			if err := c.suite.Serve(gctx, ch); err != nil {
				c.logger.Printf("export connection failed: %s", err)
			}
		}, c.logger)
		if err := c.serve(gctx, g, "export", c.params.exportAddr, handler); err != nil {
			return c.results, err
		}
	}

	c.declare(gctx)
	completion, runErr := c.suite.Run(gctx)
	if runErr == nil {
		remote := c.results
		c.results = framework.Results{Status: completion.Status}
		for _, t := range completion.Tests {
			c.results.Add("", t)
		}
		c.results.Tests = append(c.results.Tests, remote.Tests...)
		c.results.Failures = append(c.results.Failures, remote.Failures...)

		if c.params.exportAddr != "" && c.params.linger > 0 {
			select {
			case <-time.After(c.params.linger):
			case <-gctx.Done():
			}
		}
	}

	cancel()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	return c.results, runErr
}

// serve starts an HTTP server in the group. The listener is opened before serve returns, so
// that the endpoint is reachable as soon as the suite starts.
func (c *collector) serve(ctx context.Context, g *errgroup.Group, name, addr string, handler http.Handler) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not start %s endpoint: %w", name, err)
	}
	c.listeners[name] = listener
	server := &http.Server{Handler: handler, ReadHeaderTimeout: serverReadTimeout}
	g.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s endpoint failed: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	})
	c.logger.Printf("%s endpoint listening on %s", name, listener.Addr())
	return nil
}

// failedConnections returns the names of the local tests for remotes that did not pass, or whose
// tests did not all pass.
func (c *collector) failedConnections() []string {
	var names []string
	seen := make(map[string]bool)
	for _, f := range c.results.Failures {
		name := f.Test.Name
		if len(f.TestID.Path) > 1 {
			name = connectTestPrefix + f.TestID.Path[0]
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
