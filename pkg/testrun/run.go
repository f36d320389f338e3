package testrun

import (
	"slices"
	"time"
)

// RunSummary is the firmware's own tally, taken from a SUMMARY marker.
type RunSummary struct {
	Total       int     `json:"total"`
	Passed      int     `json:"passed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// NewRunSummary builds a summary and derives its success rate.
func NewRunSummary(total, passed, failed int) RunSummary {
	var rate float64
	if total > 0 {
		rate = float64(passed) / float64(total) * 100
	}

	return RunSummary{
		Total:       total,
		Passed:      passed,
		Failed:      failed,
		SuccessRate: rate,
	}
}

// RawLogEntry is one non-empty line received from the probe bridge.
type RawLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Raw       string    `json:"raw"`
}

// Run holds all state accumulated during one supervised execution: the test
// registry, the raw log buffer and the most recent summary. It is owned by a
// single goroutine for the lifetime of the run.
type Run struct {
	now      func() time.Time
	registry *Registry
	rawLog   []RawLogEntry
	summary  *RunSummary
}

// NewRun creates an empty run. A nil now falls back to time.Now.
func NewRun(now func() time.Time) *Run {
	if now == nil {
		now = time.Now
	}

	return &Run{
		now:      now,
		registry: NewRegistry(now),
		rawLog:   make([]RawLogEntry, 0, 256),
	}
}

// Registry returns the run's test registry.
func (r *Run) Registry() *Registry {
	return r.registry
}

// Record appends a line to the raw log buffer.
func (r *Run) Record(line string) {
	r.rawLog = append(r.rawLog, RawLogEntry{
		Timestamp: r.now(),
		Raw:       line,
	})
}

// RawLog returns a copy of the raw log buffer.
func (r *Run) RawLog() []RawLogEntry {
	return slices.Clone(r.rawLog)
}

// RawLogLen returns the number of buffered raw lines.
func (r *Run) RawLogLen() int {
	return len(r.rawLog)
}

// SetSummary replaces the latest observed summary.
func (r *Run) SetSummary(s RunSummary) {
	r.summary = &s
}

// Summary returns a copy of the latest observed summary, or nil if no
// summary marker has been seen yet.
func (r *Run) Summary() *RunSummary {
	if r.summary == nil {
		return nil
	}

	s := *r.summary

	return &s
}
