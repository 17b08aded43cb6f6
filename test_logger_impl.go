package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/launchdarkly/test-collector/framework"
	"github.com/launchdarkly/test-collector/framework/ldtest"
	"github.com/launchdarkly/test-collector/servicedef"

	"github.com/fatih/color"
)

// ConsoleTestLogger reports progress to the console as events arrive from the local suite and
// every remote context.
type ConsoleTestLogger struct {
	Out         io.Writer
	ShowStacks  bool
	DebugOutput *framework.CapturingLogger
}

var (
	passColor    = color.New(color.FgGreen)
	failColor    = color.New(color.FgRed, color.Bold)
	timeoutColor = color.New(color.FgYellow, color.Bold)
	notRunColor  = color.New(color.Faint)
)

func statusColor(status servicedef.TestStatus) *color.Color {
	switch status {
	case servicedef.TestStatusPass:
		return passColor
	case servicedef.TestStatusFail:
		return failColor
	case servicedef.TestStatusTimeout:
		return timeoutColor
	default:
		return notRunColor
	}
}

func testID(test servicedef.TestSnapshot, origin ldtest.Origin) framework.TestID {
	if origin == "" {
		return framework.TestID{Path: []string{test.Name}}
	}
	return framework.TestID{Path: []string{origin, test.Name}}
}

func (c *ConsoleTestLogger) TestStarted(test servicedef.TestSnapshot, origin ldtest.Origin) {
	fmt.Fprintf(c.Out, "[%s]\n", testID(test, origin))
}

func (c *ConsoleTestLogger) TestFinished(test servicedef.TestSnapshot, origin ldtest.Origin) {
	if test.Status == servicedef.TestStatusPass {
		return
	}
	statusColor(test.Status).Fprintf(c.Out, "  %s: %s\n", test.Status, testID(test, origin))
	if test.Message.IsDefined() {
		for _, line := range strings.Split(test.Message.StringValue(), "\n") {
			fmt.Fprintf(c.Out, "    %s\n", line)
		}
	}
	if c.ShowStacks && test.Stack.IsDefined() {
		for _, line := range strings.Split(test.Stack.StringValue(), "\n") {
			fmt.Fprintf(c.Out, "      %s\n", line)
		}
	}
}

func (c *ConsoleTestLogger) SuiteFinished(tests []servicedef.TestSnapshot, status servicedef.SuiteStatus) {
	fmt.Fprintln(c.Out)
	if status.Status == servicedef.SuiteStatusOK {
		passColor.Fprintf(c.Out, "Suite finished: %s\n", status.Status)
		return
	}
	failColor.Fprintf(c.Out, "Suite finished: %s\n", status.Status)
	if c.DebugOutput != nil {
		c.DebugOutput.Output().Dump(c.Out, "    DEBUG ")
	}
}
