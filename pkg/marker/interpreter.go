package marker

import (
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/ethpandaops/rttmon/pkg/testrun"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Interpreter applies parsed markers to a run.
type Interpreter struct {
	log   logrus.FieldLogger
	diags *rate.Limiter
}

// NewInterpreter creates an interpreter. Malformed-marker diagnostics are
// throttled by diags; a nil limiter logs every diagnostic.
func NewInterpreter(log logrus.FieldLogger, diags *rate.Limiter) *Interpreter {
	return &Interpreter{
		log:   log.WithField("component", "marker"),
		diags: diags,
	}
}

// Apply records line in the run's raw log and applies every marker found in
// it to the registry. If the line carried a summary marker the summary is
// stored on the run and returned. The parsed events are returned so callers
// can account for them.
func (i *Interpreter) Apply(run *testrun.Run, line string) (*testrun.RunSummary, []Event) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	run.Record(line)

	events := Parse(stripansi.Strip(line))

	var summary *testrun.RunSummary

	reg := run.Registry()

	for _, ev := range events {
		switch ev.Kind {
		case KindStatus:
			created := reg.ApplyStatus(ev.Test, ev.Status)

			i.log.WithFields(logrus.Fields{
				"test":    ev.Test,
				"status":  ev.Status,
				"created": created,
			}).Info("Test status")
		case KindResult:
			if !reg.ApplyResult(ev.Test, ev.Status, ev.DurationMS) {
				i.log.WithField("test", ev.Test).Debug("Result for unknown test ignored")

				continue
			}

			i.log.WithFields(logrus.Fields{
				"test":        ev.Test,
				"status":      ev.Status,
				"duration_ms": ev.DurationMS,
			}).Info("Test result")
		case KindSummary:
			run.SetSummary(ev.Summary)

			s := ev.Summary
			summary = &s

			i.log.WithFields(logrus.Fields{
				"total":  s.Total,
				"passed": s.Passed,
				"failed": s.Failed,
			}).Info("Test summary")
		case KindLog:
			i.firmwareLog(ev)
		case KindRaw:
			i.log.WithField("line", ev.Line).Debug("RTT")
		case KindMalformed:
			if i.diags == nil || i.diags.Allow() {
				i.log.WithError(ev.Err).WithFields(logrus.Fields{
					"grammar": ev.Grammar,
					"line":    line,
				}).Warn("Malformed marker")
			}
		}
	}

	return summary, events
}

// firmwareLog echoes a firmware log line at a matching severity.
func (i *Interpreter) firmwareLog(ev Event) {
	entry := i.log.WithFields(logrus.Fields{
		"tick":     ev.Tick,
		"fw_level": ev.Level,
	})

	switch ev.Level {
	case "ERROR":
		entry.Warn(ev.Message)
	case "DEBUG":
		entry.Debug(ev.Message)
	default:
		entry.Info(ev.Message)
	}
}
