package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/rttmon/pkg/api/indexstore"
	"github.com/ethpandaops/rttmon/pkg/report"
	"github.com/sirupsen/logrus"
)

type indexSink struct {
	log      logrus.FieldLogger
	store    indexstore.Store
	location func(name string) string
	now      func() time.Time
}

// Ensure interface compliance.
var _ Sink = (*indexSink)(nil)

// NewIndexSink returns a Sink recording runs in store. location maps a
// report name to where the report file can be found; it may be nil.
func NewIndexSink(
	log logrus.FieldLogger,
	store indexstore.Store,
	location func(name string) string,
) Sink {
	return &indexSink{
		log:      log.WithField("component", "index-sink"),
		store:    store,
		location: location,
		now:      time.Now,
	}
}

// Name implements Sink.
func (s *indexSink) Name() string {
	return "index"
}

// Write implements Sink.
func (s *indexSink) Write(ctx context.Context, r *report.Report, name string) error {
	run := RunFromReport(r, name)
	run.IndexedAt = s.now().UTC()

	if s.location != nil {
		run.ReportLocation = s.location(name)
	}

	if err := s.store.UpsertRun(ctx, run); err != nil {
		return fmt.Errorf("indexing run: %w", err)
	}

	if err := s.store.ReplaceTestResults(ctx, r.RunID, TestResultsFromReport(r)); err != nil {
		return fmt.Errorf("indexing test results: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"run_id": r.RunID,
		"tests":  len(r.TestResults),
	}).Debug("Run indexed")

	return nil
}

// RunFromReport maps a report onto an index row.
func RunFromReport(r *report.Report, name string) *indexstore.Run {
	run := &indexstore.Run{
		RunID:       r.RunID,
		Device:      r.Device,
		Interface:   r.Interface,
		Speed:       r.Speed,
		Outcome:     r.Outcome,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		DurationMS:  r.DurationMS,
		TestsTotal:  r.Summary.TotalTests,
		TestsPassed: r.Summary.PassedTests,
		TestsFailed: r.Summary.FailedTests,
		ReportName:  name,
	}

	if r.LastSummary != nil {
		run.HasSummary = true
		run.SummaryTotal = r.LastSummary.Total
		run.SummaryPassed = r.LastSummary.Passed
		run.SummaryFailed = r.LastSummary.Failed
		run.SummaryRate = r.LastSummary.SuccessRate
	}

	if r.Bridge != nil {
		run.BridgeRuntime = r.Bridge.Runtime
	}

	return run
}

// TestResultsFromReport maps the report's tests onto index rows.
func TestResultsFromReport(r *report.Report) []*indexstore.TestResult {
	tests := r.Tests()
	out := make([]*indexstore.TestResult, 0, len(tests))

	for _, tr := range tests {
		out = append(out, &indexstore.TestResult{
			RunID:      r.RunID,
			TestName:   tr.Name,
			Status:     tr.Status.String(),
			DurationMS: tr.DurationMS,
			FirstSeen:  tr.Timestamp,
		})
	}

	return out
}
