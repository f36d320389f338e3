package monitor

import (
	"errors"
	"time"

	"github.com/ethpandaops/rttmon/pkg/bridge"
	"github.com/ethpandaops/rttmon/pkg/testrun"
)

var (
	// ErrConnection is returned when the probe bridge cannot be started.
	ErrConnection = errors.New("probe connection failed")

	// ErrRead is returned when reading the probe output stream fails.
	ErrRead = errors.New("reading probe output failed")
)

// State is a monitoring loop state.
type State string

const (
	StateNotStarted      State = "not_started"
	StateConnecting      State = "connecting"
	StateMonitoring      State = "monitoring"
	StateSucceeded       State = "succeeded"
	StateTimedOut        State = "timed_out"
	StateProbeTerminated State = "probe_terminated"
	StateError           State = "error"
	StateStopped         State = "stopped"
)

// IsOutcome reports whether s is one of the terminal outcomes a run can end
// in before the bridge is stopped.
func (s State) IsOutcome() bool {
	switch s {
	case StateSucceeded, StateTimedOut, StateProbeTerminated, StateError:
		return true
	default:
		return false
	}
}

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// Transition records a state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Result is the outcome of one monitoring run.
type Result struct {
	RunID string

	// Outcome is the terminal outcome reached before the bridge was stopped.
	Outcome State

	// Summary is the last summary marker observed, or nil.
	Summary *testrun.RunSummary

	// Run holds the registry and raw log accumulated during the run.
	Run *testrun.Run

	StartedAt   time.Time
	FinishedAt  time.Time
	Transitions []Transition

	// Bridge is the resource usage reported by the bridge, if any.
	Bridge *bridge.Stats

	// Err is the error that ended the run in StateError.
	Err error
}

// Succeeded reports whether the run reached a success terminus.
func (r *Result) Succeeded() bool {
	return r.Outcome == StateSucceeded
}

// Duration returns the wall-clock duration of the run.
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}

	return r.FinishedAt.Sub(r.StartedAt)
}
