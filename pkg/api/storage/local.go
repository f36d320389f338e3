package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Compile-time interface check.
var _ Reader = (*localReader)(nil)

type localReader struct {
	dir string
}

// NewLocalReader creates a Reader over the reports in dir.
func NewLocalReader(dir string) Reader {
	return &localReader{dir: filepath.Clean(dir)}
}

// ListReports returns report file names in dir, sorted.
func (r *localReader) ListReports(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading results directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isReportName(e.Name()) {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}

// GetReport reads {dir}/{name}.
// Returns (nil, nil) when the file does not exist.
func (r *localReader) GetReport(_ context.Context, name string) ([]byte, error) {
	if !isReportName(name) {
		return nil, fmt.Errorf("invalid report name %q", name)
	}

	p := r.Location(name)

	data, err := os.ReadFile(p) //nolint:gosec // name validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading file %s: %w", p, err)
	}

	return data, nil
}

// Location returns the file path of the report.
func (r *localReader) Location(name string) string {
	return filepath.Join(r.dir, name)
}
