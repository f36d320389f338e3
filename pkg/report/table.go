package report

import (
	"fmt"
	"io"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/rttmon/pkg/testrun"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// WriteTable prints the per-test results of r as a console table followed
// by the run totals.
func WriteTable(w io.Writer, r *Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("RTT Test Results: %s (%s, %s)",
		r.Device, r.Outcome, units.HumanDuration(time.Duration(r.DurationMS)*time.Millisecond)))

	t.AppendHeader(table.Row{"Test", "Status", "Duration"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
	})

	for _, tr := range r.Tests() {
		t.AppendRow(table.Row{tr.Name, statusString(tr.Status), formatDurationMS(tr.DurationMS)})
	}

	t.AppendFooter(table.Row{
		"Total",
		fmt.Sprintf("%d passed, %d failed", r.Summary.PassedTests, r.Summary.FailedTests),
		fmt.Sprintf("%d tests", r.Summary.TotalTests),
	})

	t.SetStyle(table.StyleRounded)
	t.Render()

	WriteSummary(w, r.LastSummary)
}

// WriteSummary prints the firmware's own summary, if one was observed.
func WriteSummary(w io.Writer, s *testrun.RunSummary) {
	if s == nil {
		_, _ = fmt.Fprintln(w, "No test summary received")

		return
	}

	_, _ = fmt.Fprintf(w, "Test execution completed:\n"+
		"  Total: %d\n"+
		"  Passed: %d\n"+
		"  Failed: %d\n"+
		"  Success Rate: %.1f%%\n",
		s.Total, s.Passed, s.Failed, s.SuccessRate)
}

func statusString(s testrun.TestStatus) string {
	switch s {
	case testrun.StatusPass, testrun.StatusComplete:
		return text.FgGreen.Sprint(s.String())
	case testrun.StatusFail:
		return text.FgRed.Sprint(s.String())
	default:
		return text.FgYellow.Sprint(s.String())
	}
}
