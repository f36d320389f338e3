package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/rttmon/pkg/testrun"
)

// Markdown renders a summary of r suitable for a CI step summary. The
// output is capped at maxChars characters; zero means unlimited.
func Markdown(r *Report, maxChars int) string {
	var sb strings.Builder

	sb.Grow(4096)

	writeTitle(&sb, r.RunID)
	writeOverview(&sb, r)
	writeTestCounts(&sb, r)
	writeFirmwareSummary(&sb, r.LastSummary)
	writeBridge(&sb, r)

	// Tests section is last, it gets truncated if needed.
	writeTests(&sb, r.Tests(), maxChars)

	return sb.String()
}

func writeTitle(sb *strings.Builder, runID string) {
	fmt.Fprintf(sb, "# RTT Run: %s\n\n", runID)
}

func writeOverview(sb *strings.Builder, r *Report) {
	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	fmt.Fprintf(sb, "| Outcome | %s |\n", r.Outcome)

	if r.Error != "" {
		fmt.Fprintf(sb, "| Error | %s |\n", escapeCell(r.Error))
	}

	if r.Device != "" {
		fmt.Fprintf(sb, "| Device | %s |\n", r.Device)
	}

	if r.Interface != "" {
		fmt.Fprintf(sb, "| Interface | %s |\n", r.Interface)
	}

	if r.Speed > 0 {
		fmt.Fprintf(sb, "| Speed | %d kHz |\n", r.Speed)
	}

	if !r.StartedAt.IsZero() {
		fmt.Fprintf(sb, "| Started | %s |\n",
			r.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	if r.DurationMS > 0 {
		fmt.Fprintf(sb, "| Duration | %s |\n",
			formatDuration(time.Duration(r.DurationMS)*time.Millisecond))
	}

	fmt.Fprintf(sb, "| Log Lines | %d |\n", len(r.LogBuffer))

	sb.WriteByte('\n')
}

func writeTestCounts(sb *strings.Builder, r *Report) {
	sb.WriteString("## Test Results\n\n")
	sb.WriteString("| Total | Passed | Failed | Success Rate |\n")
	sb.WriteString("|---|---|---|---|\n")
	fmt.Fprintf(sb, "| %d | %d | %d | %.1f%% |\n\n",
		r.Summary.TotalTests,
		r.Summary.PassedTests,
		r.Summary.FailedTests,
		r.Summary.SuccessRate(),
	)

	if len(r.StatusCounts) == 0 {
		return
	}

	sb.WriteString("| Status | Count |\n")
	sb.WriteString("|---|---|\n")

	for _, status := range testrun.AllStatuses {
		fmt.Fprintf(sb, "| %s | %d |\n", status, r.StatusCounts[status.String()])
	}

	sb.WriteByte('\n')
}

func writeFirmwareSummary(sb *strings.Builder, s *testrun.RunSummary) {
	if s == nil {
		return
	}

	sb.WriteString("## Firmware Summary\n\n")
	sb.WriteString("| Total | Passed | Failed | Success Rate |\n")
	sb.WriteString("|---|---|---|---|\n")
	fmt.Fprintf(sb, "| %d | %d | %d | %.1f%% |\n\n",
		s.Total, s.Passed, s.Failed, s.SuccessRate)
}

func writeBridge(sb *strings.Builder, r *Report) {
	if r.Bridge == nil {
		return
	}

	b := r.Bridge

	sb.WriteString("## Probe Bridge\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")
	fmt.Fprintf(sb, "| Runtime | %s |\n", b.Runtime)

	if len(b.Command) > 0 {
		fmt.Fprintf(sb, "| Command | `%s` |\n", strings.Join(b.Command, " "))
	}

	if b.ContainerID != "" {
		fmt.Fprintf(sb, "| Container | `%s` |\n", shortID(b.ContainerID))
	}

	if b.ExitCode != nil {
		fmt.Fprintf(sb, "| Exit Code | %d |\n", *b.ExitCode)
	}

	if b.PeakRSSBytes > 0 {
		fmt.Fprintf(sb, "| Peak RSS | %s |\n", units.BytesSize(float64(b.PeakRSSBytes)))
	}

	if b.CPUSeconds > 0 {
		fmt.Fprintf(sb, "| CPU Time | %.2fs |\n", b.CPUSeconds)
	}

	sb.WriteByte('\n')
}

func writeTests(sb *strings.Builder, tests []TestRecord, maxChars int) {
	if len(tests) == 0 {
		return
	}

	sb.WriteString("## Tests\n\n")
	sb.WriteString("| Test | Status | Duration |\n")
	sb.WriteString("|---|---|---|\n")

	// Reserve space for the truncation message.
	const reserveChars = 100

	for i, tr := range tests {
		row := fmt.Sprintf("| %s | %s | %s |\n",
			escapeCell(tr.Name), tr.Status, formatDurationMS(tr.DurationMS))

		if maxChars > 0 && sb.Len()+len(row)+reserveChars > maxChars {
			remaining := len(tests) - i
			fmt.Fprintf(sb,
				"\n*%d more test(s) not shown "+
					"(output truncated at %d chars)*\n",
				remaining, maxChars)

			return
		}

		sb.WriteString(row)
	}
}

// formatDuration formats a time.Duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}

	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}

// formatDurationMS formats an optional test duration.
func formatDurationMS(ms *int64) string {
	if ms == nil {
		return "-"
	}

	return formatDuration(time.Duration(*ms) * time.Millisecond)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}

	return id
}

func sortedKeys(m map[string]TestRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
