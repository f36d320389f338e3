package indexstore

import "time"

// Run represents a single indexed monitoring run in the database.
type Run struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	RunID     string `gorm:"not null;uniqueIndex" json:"run_id"`
	Device    string `gorm:"index" json:"device"`
	Interface string `json:"interface"`
	Speed     int    `json:"speed"`
	Outcome   string `gorm:"index" json:"outcome"`
	Error     string `json:"error,omitempty"`

	StartedAt  time.Time `gorm:"index" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`

	// Denormalized registry counts.
	TestsTotal  int `json:"tests_total"`
	TestsPassed int `json:"tests_passed"`
	TestsFailed int `json:"tests_failed"`

	// Firmware summary, when one was observed.
	HasSummary    bool    `json:"has_summary"`
	SummaryTotal  int     `json:"summary_total"`
	SummaryPassed int     `json:"summary_passed"`
	SummaryFailed int     `json:"summary_failed"`
	SummaryRate   float64 `json:"summary_success_rate"`

	BridgeRuntime string `json:"bridge_runtime,omitempty"`

	// ReportName is the report file name; ReportLocation is where the
	// file sink wrote it.
	ReportName     string `json:"report_name"`
	ReportLocation string `json:"report_location,omitempty"`

	IndexedAt time.Time `json:"indexed_at"`
}

// TestResult represents the final state of one test within a run.
type TestResult struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	RunID      string    `gorm:"not null;uniqueIndex:idx_tr_run_test" json:"run_id"`
	TestName   string    `gorm:"not null;uniqueIndex:idx_tr_run_test;index" json:"test_name"`
	Status     string    `gorm:"index" json:"status"`
	DurationMS *int64    `json:"duration_ms"`
	FirstSeen  time.Time `json:"first_seen"`
}
