package testrun

import (
	"errors"
	"fmt"
)

// ErrUnknownStatus is returned when a status token has no TestStatus mapping.
var ErrUnknownStatus = errors.New("unknown test status")

// TestStatus is the lifecycle state of a single test as reported by the firmware.
type TestStatus string

const (
	StatusInit     TestStatus = "TEST_INIT"
	StatusRunning  TestStatus = "TEST_RUNNING"
	StatusPass     TestStatus = "TEST_PASS"
	StatusFail     TestStatus = "TEST_FAIL"
	StatusComplete TestStatus = "TEST_COMPLETE"
)

// AllStatuses lists every valid TestStatus in lifecycle order.
var AllStatuses = []TestStatus{
	StatusInit,
	StatusRunning,
	StatusPass,
	StatusFail,
	StatusComplete,
}

// ParseTestStatus maps a wire token (e.g. "TEST_PASS") to a TestStatus.
func ParseTestStatus(token string) (TestStatus, error) {
	status := TestStatus(token)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, token)
	}

	return status, nil
}

// IsValid reports whether s is one of the known statuses.
func (s TestStatus) IsValid() bool {
	switch s {
	case StatusInit, StatusRunning, StatusPass, StatusFail, StatusComplete:
		return true
	default:
		return false
	}
}

// String returns the wire token.
func (s TestStatus) String() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler.
func (s TestStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown tokens.
func (s *TestStatus) UnmarshalText(text []byte) error {
	status, err := ParseTestStatus(string(text))
	if err != nil {
		return err
	}

	*s = status

	return nil
}
