package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/launchdarkly/test-collector/framework"
	"github.com/launchdarkly/test-collector/framework/harness"
	"github.com/launchdarkly/test-collector/servicedef"

	"github.com/urfave/cli/v2"
)

var Version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "test-collector"
	app.Version = Version
	app.Usage = "aggregate test results from remote execution contexts"
	app.Description = "test-collector runs a suite that attaches to each remote context, " +
		"collects its test events, and reports the combined outcome."
	app.Flags = allFlags
	app.Action = run

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	params, err := readParams(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Invalid parameters: %s", err), 1)
	}

	var debugLogger framework.Logger = framework.NullLogger()
	var capturedOutput *framework.CapturingLogger
	switch {
	case params.debugAll:
		debugLogger = log.New(os.Stdout, "", log.LstdFlags)
	case params.debug:
		capturedOutput = &framework.CapturingLogger{}
		debugLogger = capturedOutput
	}

	var testHarness *harness.TestHarness
	if params.usesTestService() {
		testHarness, err = harness.NewTestHarness(
			params.serviceURL,
			params.host,
			params.port,
			statusQueryTimeout,
			debugLogger,
			os.Stdout,
		)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Test service error: %s", err), 1)
		}
		if !testHarness.ServiceHasCapability(servicedef.CapabilityGetMessages) {
			fmt.Printf("Test service %q does not support %q; messages sent before the first callback may be lost\n",
				testHarness.ServiceInfo().Name, servicedef.CapabilityGetMessages)
		}
	}

	fmt.Println()
	framework.PrintFilterDescription(params.filters)
	fmt.Println("Running test suite")

	coll := newCollector(params, collectorOptions{
		testLogger: &ConsoleTestLogger{
			Out:         os.Stdout,
			ShowStacks:  params.debug || params.debugAll,
			DebugOutput: capturedOutput,
		},
		debugLogger: debugLogger,
		testHarness: testHarness,
	})
	results, err := coll.run(c.Context)

	if testHarness != nil && params.stopServiceAtEnd {
		fmt.Println("Stopping test service")
		if stopErr := testHarness.StopService(); stopErr != nil {
			fmt.Fprintf(os.Stderr, "Error when stopping test service: %s\n", stopErr)
		}
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("Test run failed: %s", err), 1)
	}

	fmt.Println()
	framework.PrintResults(os.Stdout, results)
	if !results.OK() {
		if names := coll.failedConnections(); len(names) > 0 {
			fmt.Println()
			fmt.Println("To run only the remote contexts that failed:")
			fmt.Printf("  %s\n", rerunCommand(params, names))
		}
		return cli.Exit("", 1)
	}
	return nil
}
