package framework

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/launchdarkly/test-collector/servicedef"
)

// Results is a flattened view of a finished run: every local test from the completion event plus
// every result reported by remote contexts.
type Results struct {
	Tests    []TestResult
	Failures []TestResult
	Status   servicedef.SuiteStatus
}

type TestResult struct {
	TestID TestID
	Test   servicedef.TestSnapshot
}

func (r Results) OK() bool {
	return r.Status.Status == servicedef.SuiteStatusOK && len(r.Failures) == 0
}

// Add records the final snapshot of one test. Origin is empty for local tests.
func (r *Results) Add(origin string, test servicedef.TestSnapshot) {
	id := TestID{Path: []string{test.Name}}
	if origin != "" {
		id.Path = []string{origin, test.Name}
	}
	result := TestResult{TestID: id, Test: test}
	r.Tests = append(r.Tests, result)
	if test.Status == servicedef.TestStatusFail || test.Status == servicedef.TestStatusTimeout {
		r.Failures = append(r.Failures, result)
	}
}

// Count returns the number of tests that finished with the given status.
func (r Results) Count(status servicedef.TestStatus) int {
	n := 0
	for _, t := range r.Tests {
		if t.Test.Status == status {
			n++
		}
	}
	return n
}

type TestID struct {
	Path []string
}

func (t TestID) String() string {
	return strings.Join(t.Path, "/")
}

// PrintResults writes a summary table of the run.
func PrintResults(w io.Writer, results Results) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "Test", "Status", "Message"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight},
		{Name: "Test", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Message", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})
	for _, t := range results.Tests {
		tw.AppendRow(table.Row{t.Test.Index, t.TestID.String(), t.Test.Status.String(), t.Test.Message.OrElse("")})
	}
	tw.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%d tests", len(results.Tests)),
		results.Status.Status.String(),
		fmt.Sprintf("passed %d, failed %d, timed out %d, not run %d",
			results.Count(servicedef.TestStatusPass),
			results.Count(servicedef.TestStatusFail),
			results.Count(servicedef.TestStatusTimeout),
			results.Count(servicedef.TestStatusNotRun),
		),
	})
	tw.SetStyle(table.StyleLight)
	tw.Render()

	if results.Status.Status != servicedef.SuiteStatusOK {
		fmt.Fprintf(w, "Suite status %s", results.Status.Status)
		if results.Status.Message.IsDefined() {
			fmt.Fprintf(w, ": %s", results.Status.Message.StringValue())
		}
		fmt.Fprintln(w)
	}
	if len(results.Failures) > 0 {
		fmt.Fprintln(w, "Failed tests:")
		for _, f := range results.Failures {
			fmt.Fprintf(w, "  %s (%s)\n", f.TestID, f.Test.Status)
		}
	}
}
