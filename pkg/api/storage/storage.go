package storage

import (
	"context"
	"path"
	"strings"
)

// ReportPattern matches report file names written by the file sink.
const ReportPattern = "test_results_*.json"

// Reader provides read access to stored run reports (local results
// directory or S3). It is used by the API and the background indexer
// without knowing the underlying storage details.
type Reader interface {
	// ListReports returns the names of all stored reports.
	ListReports(ctx context.Context) ([]string, error)

	// GetReport reads the report stored under name.
	// Returns (nil, nil) when the report does not exist.
	GetReport(ctx context.Context, name string) ([]byte, error)

	// Location describes where the report named name is stored.
	Location(name string) string
}

// isReportName reports whether name is a plain report file name.
func isReportName(name string) bool {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}

	ok, err := path.Match(ReportPattern, name)

	return err == nil && ok
}
