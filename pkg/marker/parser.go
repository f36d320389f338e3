package marker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethpandaops/rttmon/pkg/testrun"
)

// Marker patterns emitted by the firmware RTT logger. They are searched
// anywhere in a line so that probe-side prefixes do not hide a marker.
var (
	// Format: STATUS:{TOKEN}:{test name}
	// Example: STATUS:TEST_RUNNING:uart_loopback
	statusPattern = regexp.MustCompile(`STATUS:(\w+):(.+)`)

	// Format: RESULT:{test name}:{PASS|FAIL}:{duration ms}
	// Example: RESULT:uart_loopback:PASS:125
	resultPattern = regexp.MustCompile(`RESULT:(.+):(PASS|FAIL):(\d+)`)

	// Format: SUMMARY:{total}:{passed}:{failed}
	// Example: SUMMARY:10:7:3
	summaryPattern = regexp.MustCompile(`SUMMARY:(\d+):(\d+):(\d+)`)

	// Format: [{tick}] [{LEVEL}] {message}
	// Example: [00001234] [INFO] RTT Buffer Size: 1024 bytes
	logPattern = regexp.MustCompile(`\[(\d+)\] \[(\w+)\] (.+)`)
)

// Kind identifies the grammar an Event came from.
type Kind string

const (
	KindStatus    Kind = "status"
	KindResult    Kind = "result"
	KindSummary   Kind = "summary"
	KindLog       Kind = "log"
	KindRaw       Kind = "raw"
	KindMalformed Kind = "malformed"
)

// Event is one structured effect extracted from a line. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind Kind

	// Status and result markers.
	Test       string
	Status     testrun.TestStatus
	DurationMS int64

	// Summary markers.
	Summary testrun.RunSummary

	// Generic log lines.
	Tick    uint64
	Level   string
	Message string

	// Raw passthrough lines.
	Line string

	// Malformed markers.
	Grammar Kind
	Err     error
}

// Parse classifies a single line. Every grammar is tested against the line,
// so one line can yield several events; they are returned in the order
// status, result, summary, log. Lines without a generic log match are
// returned as a raw passthrough event. Empty lines yield nothing.
func Parse(line string) []Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	events := make([]Event, 0, 2)

	if m := statusPattern.FindStringSubmatch(line); m != nil {
		events = append(events, parseStatus(m[1], m[2]))
	}

	if m := resultPattern.FindStringSubmatch(line); m != nil {
		events = append(events, parseResult(m[1], m[2], m[3]))
	}

	if m := summaryPattern.FindStringSubmatch(line); m != nil {
		events = append(events, parseSummary(m[1], m[2], m[3]))
	}

	if m := logPattern.FindStringSubmatch(line); m != nil {
		events = append(events, parseLog(m[1], m[2], m[3]))
	} else {
		events = append(events, Event{Kind: KindRaw, Line: line})
	}

	return events
}

func parseStatus(token, test string) Event {
	status, err := testrun.ParseTestStatus(token)
	if err != nil {
		return malformed(KindStatus, err)
	}

	return Event{
		Kind:   KindStatus,
		Test:   test,
		Status: status,
	}
}

func parseResult(test, outcome, duration string) Event {
	ms, err := strconv.ParseInt(duration, 10, 64)
	if err != nil {
		return malformed(KindResult, fmt.Errorf("parsing duration %q: %w", duration, err))
	}

	status := testrun.StatusFail
	if outcome == "PASS" {
		status = testrun.StatusPass
	}

	return Event{
		Kind:       KindResult,
		Test:       test,
		Status:     status,
		DurationMS: ms,
	}
}

func parseSummary(total, passed, failed string) Event {
	fields := [3]int{}

	for i, raw := range []string{total, passed, failed} {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return malformed(KindSummary, fmt.Errorf("parsing count %q: %w", raw, err))
		}

		fields[i] = n
	}

	return Event{
		Kind:    KindSummary,
		Summary: testrun.NewRunSummary(fields[0], fields[1], fields[2]),
	}
}

func parseLog(tick, level, message string) Event {
	// An oversized tick still makes this a log line; it is informational only.
	n, _ := strconv.ParseUint(tick, 10, 64)

	return Event{
		Kind:    KindLog,
		Tick:    n,
		Level:   level,
		Message: message,
	}
}

func malformed(grammar Kind, err error) Event {
	return Event{
		Kind:    KindMalformed,
		Grammar: grammar,
		Err:     err,
	}
}
