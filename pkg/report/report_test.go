package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/rttmon/pkg/bridge"
	"github.com/ethpandaops/rttmon/pkg/monitor"
	"github.com/ethpandaops/rttmon/pkg/testrun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	now := testStart

	return func() time.Time {
		now = now.Add(time.Second)

		return now
	}
}

func newRun(lines ...string) *testrun.Run {
	run := testrun.NewRun(fixedClock())

	for _, line := range lines {
		run.Record(line)
	}

	return run
}

func newResult(run *testrun.Run, outcome monitor.State) *monitor.Result {
	return &monitor.Result{
		RunID:      "0b5c8a52-run",
		Outcome:    outcome,
		Summary:    run.Summary(),
		Run:        run,
		StartedAt:  testStart,
		FinishedAt: testStart.Add(90 * time.Second),
		Transitions: []monitor.Transition{
			{From: monitor.StateNotStarted, To: monitor.StateConnecting, At: testStart},
		},
	}
}

func TestBuild_AllPassRun(t *testing.T) {
	run := newRun("STATUS:TEST_INIT:t1", "STATUS:TEST_PASS:t1", "SUMMARY:1:1:0")
	run.Registry().ApplyStatus("t1", testrun.StatusPass)
	run.SetSummary(testrun.NewRunSummary(1, 1, 0))

	res := newResult(run, monitor.StateSucceeded)
	res.Bridge = &bridge.Stats{Runtime: "exec", Command: []string{"JLinkRTTClient"}}

	r := Build(res, Meta{Device: "STM32F407VG", Interface: "SWD", Speed: 4000})

	assert.Equal(t, "0b5c8a52-run", r.RunID)
	assert.Equal(t, "succeeded", r.Outcome)
	assert.Equal(t, "STM32F407VG", r.Device)
	assert.Equal(t, int64(90000), r.DurationMS)
	assert.Equal(t, Summary{TotalTests: 1, PassedTests: 1, FailedTests: 0}, r.Summary)
	assert.Equal(t, 1, r.StatusCounts["TEST_PASS"])
	assert.Equal(t, 0, r.StatusCounts["TEST_FAIL"])
	assert.Len(t, r.StatusCounts, len(testrun.AllStatuses))
	assert.Len(t, r.LogBuffer, 3)
	require.NotNil(t, r.LastSummary)
	assert.Equal(t, 1, r.LastSummary.Passed)
	require.NotNil(t, r.Bridge)
	assert.Equal(t, "exec", r.Bridge.Runtime)
	assert.Empty(t, r.Error)
}

func TestBuild_ProbeTerminatedRun(t *testing.T) {
	run := newRun("STATUS:TEST_RUNNING:t1")
	run.Registry().ApplyStatus("t1", testrun.StatusRunning)

	r := Build(newResult(run, monitor.StateProbeTerminated), Meta{})

	assert.Equal(t, "probe_terminated", r.Outcome)
	assert.Nil(t, r.LastSummary)

	tr, ok := r.TestResults["t1"]
	require.True(t, ok)
	assert.Equal(t, testrun.StatusRunning, tr.Status)
	assert.Nil(t, tr.DurationMS)
	assert.Equal(t, Summary{TotalTests: 1}, r.Summary)
}

func TestBuild_RecordsError(t *testing.T) {
	run := newRun()
	res := newResult(run, monitor.StateError)
	res.Err = errors.New("probe connection failed: exec: not found")

	r := Build(res, Meta{})
	assert.Equal(t, "error", r.Outcome)
	assert.Contains(t, r.Error, "probe connection failed")
	assert.Empty(t, r.TestResults)
	assert.Equal(t, 0, r.Summary.TotalTests)
}

func TestBuild_DoesNotMutateInputs(t *testing.T) {
	run := newRun("STATUS:TEST_INIT:a", "RESULT:a:FAIL:12")
	run.Registry().ApplyStatus("a", testrun.StatusInit)
	run.Registry().ApplyResult("a", testrun.StatusFail, 12)

	res := newResult(run, monitor.StateTimedOut)

	first := Build(res, Meta{})

	// Changing the report leaves the run untouched.
	first.LogBuffer[0].Raw = "changed"
	*first.TestResults["a"].DurationMS = 99

	second := Build(res, Meta{})
	assert.Equal(t, "STATUS:TEST_INIT:a", second.LogBuffer[0].Raw)
	assert.Equal(t, int64(12), *second.TestResults["a"].DurationMS)
	assert.Equal(t, 2, run.RawLogLen())
	assert.Len(t, res.Transitions, 1)
}

func TestReport_JSONMembers(t *testing.T) {
	run := newRun("STATUS:TEST_RUNNING:t1")
	run.Registry().ApplyStatus("t1", testrun.StatusRunning)

	data, err := Build(newResult(run, monitor.StateTimedOut), Meta{}).Marshal()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	for _, key := range []string{"test_results", "log_buffer", "summary", "outcome", "run_id"} {
		assert.Contains(t, doc, key)
	}

	summary, ok := doc["summary"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, summary, "total_tests")
	assert.Contains(t, summary, "passed_tests")
	assert.Contains(t, summary, "failed_tests")

	tests, ok := doc["test_results"].(map[string]any)
	require.True(t, ok)

	t1, ok := tests["t1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "TEST_RUNNING", t1["status"])
	assert.Contains(t, t1, "duration_ms")
	assert.Nil(t, t1["duration_ms"])
	assert.Equal(t, []any{}, t1["log_messages"])

	logs, ok := doc["log_buffer"].([]any)
	require.True(t, ok)
	require.Len(t, logs, 1)

	entry, ok := logs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "STATUS:TEST_RUNNING:t1", entry["raw"])
	assert.Contains(t, entry, "timestamp")
}

func TestLoad(t *testing.T) {
	run := newRun("SUMMARY:2:1:1")
	run.Registry().ApplyStatus("b", testrun.StatusPass)
	run.Registry().ApplyStatus("a", testrun.StatusFail)

	data, err := Build(newResult(run, monitor.StateSucceeded), Meta{Device: "nRF52840_xxAA"}).Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	r, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nRF52840_xxAA", r.Device)
	assert.Equal(t, []string{"b", "a"}, r.TestOrder)

	names := make([]string, 0, 2)
	for _, tr := range r.Tests() {
		names = append(names, tr.Name)
	}

	assert.Equal(t, []string{"b", "a"}, names)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = Decode([]byte("{"))
	require.Error(t, err)
}

func TestReport_TestsWithoutOrder(t *testing.T) {
	r, err := Decode([]byte(`{"test_results":{"zeta":{"name":"zeta","status":"TEST_PASS"},"alpha":{"name":"alpha","status":"TEST_FAIL"}}}`))
	require.NoError(t, err)

	tests := r.Tests()
	require.Len(t, tests, 2)
	assert.Equal(t, "alpha", tests[0].Name)
	assert.Equal(t, "zeta", tests[1].Name)
}

func TestMarkdown(t *testing.T) {
	run := newRun("STATUS:TEST_PASS:uart", "SUMMARY:2:1:1")
	run.Registry().ApplyStatus("uart", testrun.StatusPass)
	run.Registry().ApplyResult("uart", testrun.StatusPass, 125)
	run.Registry().ApplyStatus("adc|dma", testrun.StatusFail)
	run.SetSummary(testrun.NewRunSummary(2, 1, 1))

	exit := 0
	res := newResult(run, monitor.StateSucceeded)
	res.Bridge = &bridge.Stats{
		Runtime:      "exec",
		Command:      []string{"JLinkRTTClient", "-Device", "STM32F407VG"},
		ExitCode:     &exit,
		PeakRSSBytes: 3 * 1024 * 1024,
	}

	md := Markdown(Build(res, Meta{Device: "STM32F407VG", Interface: "SWD", Speed: 4000}), 0)

	assert.Contains(t, md, "# RTT Run: 0b5c8a52-run")
	assert.Contains(t, md, "| Outcome | succeeded |")
	assert.Contains(t, md, "| Speed | 4000 kHz |")
	assert.Contains(t, md, "| Duration | 1m 30s |")
	assert.Contains(t, md, "| 2 | 1 | 1 | 50.0% |")
	assert.Contains(t, md, "## Firmware Summary")
	assert.Contains(t, md, "| Command | `JLinkRTTClient -Device STM32F407VG` |")
	assert.Contains(t, md, "| Peak RSS | 3MiB |")
	assert.Contains(t, md, "| uart | TEST_PASS | 125ms |")
	assert.Contains(t, md, `| adc\|dma | TEST_FAIL | - |`)
	assert.Less(t, strings.Index(md, "uart"), strings.Index(md, `adc\|dma`))
}

func TestMarkdown_Truncates(t *testing.T) {
	run := newRun()
	for i := range 200 {
		run.Registry().ApplyStatus(strings.Repeat("x", 10)+string(rune('a'+i%26))+strings.Repeat("y", i), testrun.StatusRunning)
	}

	md := Markdown(Build(newResult(run, monitor.StateTimedOut), Meta{}), 2000)

	assert.LessOrEqual(t, len(md), 2000)
	assert.Contains(t, md, "more test(s) not shown")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{name: "sub-second", duration: 500 * time.Millisecond, expected: "500ms"},
		{name: "seconds only", duration: 45 * time.Second, expected: "45s"},
		{name: "minutes and seconds", duration: 10*time.Minute + 8*time.Second, expected: "10m 8s"},
		{name: "hours", duration: 2*time.Hour + 30*time.Minute + 15*time.Second, expected: "2h 30m 15s"},
		{name: "zero", duration: 0, expected: "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}

func TestWriteTable(t *testing.T) {
	run := newRun()
	run.Registry().ApplyStatus("uart", testrun.StatusPass)
	run.Registry().ApplyResult("uart", testrun.StatusPass, 125)
	run.SetSummary(testrun.NewRunSummary(10, 7, 3))

	var buf bytes.Buffer
	WriteTable(&buf, Build(newResult(run, monitor.StateSucceeded), Meta{Device: "STM32F407VG"}))

	out := buf.String()
	assert.Contains(t, out, "STM32F407VG")
	assert.Contains(t, out, "uart")
	assert.Contains(t, out, "125ms")
	assert.Contains(t, out, "Success Rate: 70.0%")
}

func TestWriteSummary_None(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, nil)

	assert.Equal(t, "No test summary received\n", buf.String())
}
