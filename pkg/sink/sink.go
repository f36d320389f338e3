// Package sink persists finished run reports.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/rttmon/pkg/report"
	"github.com/sirupsen/logrus"
)

// fileNameLayout formats the run start time into a report file name.
const fileNameLayout = "20060102_150405"

// Sink stores a report under name.
type Sink interface {
	Name() string
	Write(ctx context.Context, r *report.Report, name string) error
}

// FileName returns the report file name for a run started at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("test_results_%s.json", t.Format(fileNameLayout))
}

// multi fans a report out to several sinks.
type multi struct {
	log   logrus.FieldLogger
	sinks []Sink
}

// Ensure interface compliance.
var _ Sink = (*multi)(nil)

// NewMulti returns a Sink writing to every given sink in order. A failing
// sink does not prevent the remaining ones from running.
func NewMulti(log logrus.FieldLogger, sinks ...Sink) Sink {
	return &multi{
		log:   log.WithField("component", "sink"),
		sinks: sinks,
	}
}

// Name implements Sink.
func (m *multi) Name() string {
	return "multi"
}

// Write implements Sink.
func (m *multi) Write(ctx context.Context, r *report.Report, name string) error {
	var errs []error

	for _, s := range m.sinks {
		if err := s.Write(ctx, r, name); err != nil {
			m.log.WithError(err).WithField("sink", s.Name()).
				Error("Failed to write report")

			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name(), err))

			continue
		}

		m.log.WithFields(logrus.Fields{
			"sink": s.Name(),
			"name": name,
		}).Debug("Report written")
	}

	return errors.Join(errs...)
}
