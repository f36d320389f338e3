package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/rttmon/pkg/bridge"
	"github.com/ethpandaops/rttmon/pkg/evaluator"
	"github.com/ethpandaops/rttmon/pkg/marker"
	"github.com/ethpandaops/rttmon/pkg/metrics"
	"github.com/ethpandaops/rttmon/pkg/testrun"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a run when no timeout is configured.
	DefaultTimeout = 60 * time.Second

	// DefaultSuccessGrace admits trailing lines after success is detected.
	DefaultSuccessGrace = time.Second

	// exitDrainTimeout bounds how long output is still read after the
	// bridge exited. Descendants of the bridge may keep its stream open.
	exitDrainTimeout = 2 * time.Second
)

// Monitor supervises a single run of firmware under test.
type Monitor interface {
	// Run starts the bridge, consumes its output until an outcome is
	// reached and stops the bridge. The returned result is never nil. The
	// error is non-nil only for StateError outcomes.
	Run(ctx context.Context) (*Result, error)
}

// Config contains the monitor settings.
type Config struct {
	// RunID identifies the run. A random UUID is used when empty.
	RunID string

	Timeout      time.Duration
	SuccessGrace time.Duration

	// DiagnosticsPerSecond throttles malformed-marker warnings. Zero
	// disables throttling.
	DiagnosticsPerSecond float64

	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

// NewMonitor creates a monitor for one run over b. m may be nil.
func NewMonitor(
	log logrus.FieldLogger,
	cfg *Config,
	b bridge.Bridge,
	eval evaluator.Evaluator,
	m *metrics.Metrics,
) Monitor {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.SuccessGrace < 0 {
		cfg.SuccessGrace = 0
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	log = log.WithFields(logrus.Fields{
		"component": "monitor",
		"run_id":    cfg.RunID,
	})

	var diags *rate.Limiter
	if cfg.DiagnosticsPerSecond > 0 {
		burst := int(cfg.DiagnosticsPerSecond)
		if burst < 1 {
			burst = 1
		}

		diags = rate.NewLimiter(rate.Limit(cfg.DiagnosticsPerSecond), burst)
	}

	return &monitor{
		log:     log,
		cfg:     cfg,
		bridge:  b,
		eval:    eval,
		interp:  marker.NewInterpreter(log, diags),
		metrics: m,
		state:   StateNotStarted,
	}
}

type monitor struct {
	log     logrus.FieldLogger
	cfg     *Config
	bridge  bridge.Bridge
	eval    evaluator.Evaluator
	interp  *marker.Interpreter
	metrics *metrics.Metrics

	state State
}

// Ensure interface compliance.
var _ Monitor = (*monitor)(nil)

// Run implements Monitor.
func (m *monitor) Run(ctx context.Context) (res *Result, err error) {
	run := testrun.NewRun(m.cfg.Now)

	res = &Result{
		RunID:     m.cfg.RunID,
		Run:       run,
		StartedAt: m.cfg.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor panicked: %v", r)

			m.log.WithError(err).Error("Monitoring aborted")

			if m.state != StateError {
				m.transition(res, StateError)
			}

			res.Outcome = StateError
			res.Err = err
		}

		m.stop(res)
	}()

	m.transition(res, StateConnecting)

	if startErr := m.bridge.Start(ctx); startErr != nil {
		err = fmt.Errorf("%w: %w", ErrConnection, startErr)

		m.log.WithError(startErr).Error("Failed to start probe bridge")
		m.transition(res, StateError)

		res.Outcome = StateError
		res.Err = err

		return res, err
	}

	m.transition(res, StateMonitoring)

	outcome, loopErr := m.monitor(ctx, run)

	m.transition(res, outcome)

	res.Outcome = outcome
	res.Err = loopErr

	return res, loopErr
}

// monitor consumes bridge output until an outcome is reached.
func (m *monitor) monitor(ctx context.Context, run *testrun.Run) (State, error) {
	deadline := time.NewTimer(m.cfg.Timeout)
	defer deadline.Stop()

	var (
		lines  = m.bridge.Lines()
		exited = m.bridge.Exited()
		grace  <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			m.log.WithError(ctx.Err()).Warn("Monitoring cancelled")

			return StateError, ctx.Err()

		case <-deadline.C:
			// Success already decided; the grace period only collects output.
			if grace != nil {
				return StateSucceeded, nil
			}

			m.log.WithField("timeout", m.cfg.Timeout).Warn("Run timed out")

			return StateTimedOut, nil

		case <-grace:
			return StateSucceeded, nil

		case line, ok := <-lines:
			if !ok {
				lines = nil

				if readErr := m.bridge.Err(); readErr != nil {
					return StateError, fmt.Errorf("%w: %w", ErrRead, readErr)
				}

				continue
			}

			// Trailing lines are still applied during the grace period.
			successful := m.process(run, line)
			if grace != nil || !successful {
				continue
			}

			if m.cfg.SuccessGrace == 0 {
				return StateSucceeded, nil
			}

			m.log.WithField("grace", m.cfg.SuccessGrace).Info("Success detected, collecting trailing output")

			timer := time.NewTimer(m.cfg.SuccessGrace)
			defer timer.Stop()

			grace = timer.C

		case <-exited:
			return m.drain(run, lines, deadline.C, grace != nil)
		}
	}
}

// drain applies lines still buffered after the bridge exited.
func (m *monitor) drain(
	run *testrun.Run,
	lines <-chan string,
	deadline <-chan time.Time,
	succeeded bool,
) (State, error) {
	cutoff := time.NewTimer(exitDrainTimeout)
	defer cutoff.Stop()

	for lines != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil

				if readErr := m.bridge.Err(); readErr != nil {
					return StateError, fmt.Errorf("%w: %w", ErrRead, readErr)
				}

				continue
			}

			if m.process(run, line) {
				succeeded = true
			}
		case <-cutoff.C:
			m.log.Debug("Bridge output still open after exit, not waiting further")

			lines = nil
		case <-deadline:
			if succeeded {
				return StateSucceeded, nil
			}

			return StateTimedOut, nil
		}
	}

	if succeeded {
		return StateSucceeded, nil
	}

	m.log.Warn("Probe bridge exited before the run completed")

	return StateProbeTerminated, nil
}

// process applies one line to the run and reports whether the run is now
// successful.
func (m *monitor) process(run *testrun.Run, line string) bool {
	summary, events := m.interp.Apply(run, line)
	if len(events) == 0 {
		return false
	}

	m.metrics.ObserveLine()

	mutated := false

	for _, ev := range events {
		switch ev.Kind {
		case marker.KindMalformed:
			m.metrics.ObserveMalformed()
		case marker.KindStatus, marker.KindResult:
			mutated = true

			m.metrics.ObserveMarker(string(ev.Kind))
		default:
			m.metrics.ObserveMarker(string(ev.Kind))
		}
	}

	if mutated {
		m.metrics.SetTests(statusCounts(run.Registry()))
	}

	if summary != nil {
		m.log.WithField("success_rate", summary.SuccessRate).Debug("Recorded candidate summary")
	}

	return m.eval.IsSuccessful(run.Registry())
}

// stop releases the bridge and finalises the result. Runs exactly once per
// run.
func (m *monitor) stop(res *Result) {
	if err := m.bridge.Stop(); err != nil {
		m.log.WithError(err).Warn("Failed to stop probe bridge cleanly")
	}

	m.transition(res, StateStopped)

	res.FinishedAt = m.cfg.Now()
	res.Summary = res.Run.Summary()
	res.Bridge = m.bridge.Stats()

	m.metrics.ObserveRun(res.Outcome.String(), res.Duration())

	fields := logrus.Fields{
		"outcome":  res.Outcome,
		"tests":    res.Run.Registry().Len(),
		"lines":    res.Run.RawLogLen(),
		"duration": res.Duration(),
	}

	if res.Summary != nil {
		fields["success_rate"] = fmt.Sprintf("%.1f%%", res.Summary.SuccessRate)
	}

	m.log.WithFields(fields).Info("Run finished")
}

func (m *monitor) transition(res *Result, to State) {
	from := m.state
	m.state = to

	res.Transitions = append(res.Transitions, Transition{
		From: from,
		To:   to,
		At:   m.cfg.Now(),
	})

	m.log.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Debug("State transition")
}

func statusCounts(reg *testrun.Registry) map[string]int {
	counts := reg.CountByStatus()

	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[status.String()] = n
	}

	return out
}
