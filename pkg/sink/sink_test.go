package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpandaops/rttmon/pkg/api/indexstore"
	"github.com/ethpandaops/rttmon/pkg/bridge"
	"github.com/ethpandaops/rttmon/pkg/config"
	"github.com/ethpandaops/rttmon/pkg/report"
	"github.com/ethpandaops/rttmon/pkg/testrun"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func newReport() *report.Report {
	now := testStart
	run := testrun.NewRun(func() time.Time {
		now = now.Add(time.Second)

		return now
	})

	run.Record("STATUS:TEST_INIT:uart")
	run.Registry().ApplyStatus("uart", testrun.StatusInit)
	run.Registry().ApplyResult("uart", testrun.StatusPass, 125)
	run.Registry().ApplyStatus("adc", testrun.StatusFail)
	run.SetSummary(testrun.NewRunSummary(2, 1, 1))

	r := report.FromRun(run)
	r.RunID = "run-sink"
	r.Device = "STM32F407VG"
	r.Interface = "SWD"
	r.Speed = 4000
	r.Outcome = "probe_terminated"
	r.StartedAt = testStart
	r.FinishedAt = testStart.Add(30 * time.Second)
	r.DurationMS = 30000
	r.Bridge = &bridge.Stats{Runtime: "exec"}

	return r
}

type fakeUploader struct {
	puts map[string][]byte
	err  error
}

func (u *fakeUploader) Preflight(context.Context) error {
	return nil
}

func (u *fakeUploader) Put(_ context.Context, name string, data []byte) (string, error) {
	if u.err != nil {
		return "", u.err
	}

	if u.puts == nil {
		u.puts = make(map[string][]byte)
	}

	u.puts[name] = data

	return "rttmon/reports/" + name, nil
}

func (u *fakeUploader) UploadFile(context.Context, string) (string, error) {
	return "", errors.New("not implemented")
}

type failingSink struct{}

func (failingSink) Name() string {
	return "broken"
}

func (failingSink) Write(context.Context, *report.Report, string) error {
	return errors.New("disk full")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "test_results_20260314_093005.json", FileName(testStart.Add(5*time.Second)))
}

func TestFileSink_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	s := NewFileSink(testLogger(), FileConfig{Dir: dir, Markdown: true})

	r := newReport()
	name := FileName(r.StartedAt)

	require.NoError(t, s.Write(context.Background(), r, name))

	loaded, err := report.Load(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, "run-sink", loaded.RunID)
	assert.Len(t, loaded.TestResults, 2)

	md, err := os.ReadFile(filepath.Join(dir, "test_results_20260314_093000.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "uart")

	// No temporary files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFileSink_WithoutMarkdown(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(testLogger(), FileConfig{Dir: dir})

	require.NoError(t, s.Write(context.Background(), newReport(), "report.json"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.json", entries[0].Name())
}

func TestS3Sink_Write(t *testing.T) {
	u := &fakeUploader{}
	s := NewS3Sink(testLogger(), u)

	require.NoError(t, s.Write(context.Background(), newReport(), "report.json"))
	require.Contains(t, u.puts, "report.json")

	decoded, err := report.Decode(u.puts["report.json"])
	require.NoError(t, err)
	assert.Equal(t, "run-sink", decoded.RunID)

	u.err = errors.New("access denied")
	err = s.Write(context.Background(), newReport(), "report.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestIndexSink_Write(t *testing.T) {
	store := indexstore.NewStore(testLogger(), &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, store.Start(context.Background()))

	t.Cleanup(func() { _ = store.Stop() })

	s := NewIndexSink(testLogger(), store, func(name string) string {
		return filepath.Join("logs", name)
	})

	r := newReport()
	require.NoError(t, s.Write(context.Background(), r, "report.json"))

	run, err := store.GetRun(context.Background(), "run-sink")
	require.NoError(t, err)
	assert.Equal(t, "probe_terminated", run.Outcome)
	assert.Equal(t, "STM32F407VG", run.Device)
	assert.Equal(t, 2, run.TestsTotal)
	assert.Equal(t, 1, run.TestsPassed)
	assert.Equal(t, 1, run.TestsFailed)
	assert.True(t, run.HasSummary)
	assert.InDelta(t, 50.0, run.SummaryRate, 0.001)
	assert.Equal(t, "exec", run.BridgeRuntime)
	assert.Equal(t, filepath.Join("logs", "report.json"), run.ReportLocation)
	assert.False(t, run.IndexedAt.IsZero())

	results, err := store.ListTestResults(context.Background(), "run-sink")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "uart", results[0].TestName)
	assert.Equal(t, "TEST_PASS", results[0].Status)
	require.NotNil(t, results[0].DurationMS)
	assert.Equal(t, int64(125), *results[0].DurationMS)

	// Writing the same run again updates rather than duplicates.
	r.Outcome = "succeeded"
	require.NoError(t, s.Write(context.Background(), r, "report.json"))

	runs, err := store.ListRuns(context.Background(), indexstore.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "succeeded", runs[0].Outcome)
}

func TestRunFromReport_NoSummary(t *testing.T) {
	r := newReport()
	r.LastSummary = nil
	r.Bridge = nil

	run := RunFromReport(r, "report.json")
	assert.False(t, run.HasSummary)
	assert.Zero(t, run.SummaryTotal)
	assert.Empty(t, run.BridgeRuntime)
	assert.Equal(t, "report.json", run.ReportName)
}

func TestMulti_JoinsErrors(t *testing.T) {
	u := &fakeUploader{}
	s := NewMulti(testLogger(), failingSink{}, NewS3Sink(testLogger(), u))

	err := s.Write(context.Background(), newReport(), "report.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken sink: disk full")

	// The failing sink does not stop the others.
	assert.Contains(t, u.puts, "report.json")
}

func TestMulti_NoSinks(t *testing.T) {
	require.NoError(t, NewMulti(testLogger()).Write(context.Background(), newReport(), "report.json"))
}
