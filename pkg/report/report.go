package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethpandaops/rttmon/pkg/bridge"
	"github.com/ethpandaops/rttmon/pkg/monitor"
	"github.com/ethpandaops/rttmon/pkg/testrun"
)

// Report is the persisted record of one monitoring run.
type Report struct {
	RunID      string    `json:"run_id"`
	Device     string    `json:"device,omitempty"`
	Interface  string    `json:"interface,omitempty"`
	Speed      int       `json:"speed,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`

	TestResults map[string]TestRecord `json:"test_results"`
	// TestOrder lists test names in the order they were first seen.
	TestOrder    []string              `json:"test_order"`
	LogBuffer    []testrun.RawLogEntry `json:"log_buffer"`
	Summary      Summary               `json:"summary"`
	StatusCounts map[string]int        `json:"status_counts"`
	LastSummary  *testrun.RunSummary   `json:"last_summary,omitempty"`

	Transitions []monitor.Transition `json:"transitions,omitempty"`
	Bridge      *bridge.Stats        `json:"bridge,omitempty"`
}

// TestRecord is the persisted form of a single test.
type TestRecord struct {
	Name        string             `json:"name"`
	Status      testrun.TestStatus `json:"status"`
	DurationMS  *int64             `json:"duration_ms"`
	Timestamp   time.Time          `json:"timestamp"`
	LogMessages []string           `json:"log_messages"`
}

// Summary holds the test counts derived from the registry.
type Summary struct {
	TotalTests  int `json:"total_tests"`
	PassedTests int `json:"passed_tests"`
	FailedTests int `json:"failed_tests"`
}

// SuccessRate returns the share of passed tests as a percentage, 0 when no
// test was seen.
func (s Summary) SuccessRate() float64 {
	if s.TotalTests == 0 {
		return 0
	}

	return float64(s.PassedTests) / float64(s.TotalTests) * 100
}

// Meta describes the target a run was executed against.
type Meta struct {
	Device    string
	Interface string
	Speed     int
}

// Build aggregates a monitoring result into a report. It performs no I/O
// and does not modify res.
func Build(res *monitor.Result, meta Meta) *Report {
	r := FromRun(res.Run)

	r.RunID = res.RunID
	r.Device = meta.Device
	r.Interface = meta.Interface
	r.Speed = meta.Speed
	r.Outcome = res.Outcome.String()
	r.StartedAt = res.StartedAt
	r.FinishedAt = res.FinishedAt
	r.DurationMS = res.Duration().Milliseconds()

	if res.Err != nil {
		r.Error = res.Err.Error()
	}

	if res.Summary != nil {
		s := *res.Summary
		r.LastSummary = &s
	}

	if len(res.Transitions) > 0 {
		r.Transitions = make([]monitor.Transition, len(res.Transitions))
		copy(r.Transitions, res.Transitions)
	}

	if res.Bridge != nil {
		stats := *res.Bridge
		r.Bridge = &stats
	}

	return r
}

// FromRun aggregates the registry and raw log of run.
func FromRun(run *testrun.Run) *Report {
	reg := run.Registry()
	snapshot := reg.Snapshot()

	r := &Report{
		TestResults:  make(map[string]TestRecord, len(snapshot)),
		TestOrder:    reg.Names(),
		LogBuffer:    run.RawLog(),
		StatusCounts: make(map[string]int, len(testrun.AllStatuses)),
	}

	for _, status := range testrun.AllStatuses {
		r.StatusCounts[status.String()] = 0
	}

	for name, tr := range snapshot {
		messages := tr.LogMessages
		if messages == nil {
			messages = []string{}
		}

		r.TestResults[name] = TestRecord{
			Name:        tr.Name,
			Status:      tr.Status,
			DurationMS:  tr.DurationMS,
			Timestamp:   tr.Timestamp,
			LogMessages: messages,
		}

		r.StatusCounts[tr.Status.String()]++

		switch tr.Status {
		case testrun.StatusPass:
			r.Summary.PassedTests++
		case testrun.StatusFail:
			r.Summary.FailedTests++
		}
	}

	r.Summary.TotalTests = len(snapshot)
	r.LastSummary = run.Summary()

	return r
}

// Tests returns the test records in first-seen order.
func (r *Report) Tests() []TestRecord {
	out := make([]TestRecord, 0, len(r.TestResults))
	seen := make(map[string]struct{}, len(r.TestResults))

	for _, name := range r.TestOrder {
		if tr, ok := r.TestResults[name]; ok {
			out = append(out, tr)
			seen[name] = struct{}{}
		}
	}

	// Reports written by other tools may lack an order.
	for _, name := range sortedKeys(r.TestResults) {
		if _, ok := seen[name]; !ok {
			out = append(out, r.TestResults[name])
		}
	}

	return out
}

// Marshal encodes the report as indented JSON.
func (r *Report) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling report: %w", err)
	}

	return data, nil
}

// Decode parses a JSON report.
func Decode(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}

	if r.TestResults == nil {
		r.TestResults = make(map[string]TestRecord)
	}

	return &r, nil
}

// Load reads a JSON report from path.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}

	return Decode(data)
}
