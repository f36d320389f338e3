package evaluator

import (
	"fmt"

	"github.com/ethpandaops/rttmon/pkg/testrun"
	"github.com/sirupsen/logrus"
)

// DefaultRules is the stock success decision: a test reached Complete, or
// every known test passed.
func DefaultRules() []Rule {
	return []Rule{
		TerminalStatus(testrun.StatusComplete),
		AllPass(),
	}
}

// Evaluator decides whether a run has reached a success terminus. It holds
// no state between calls.
type Evaluator interface {
	// IsSuccessful evaluates the rules in order and reports whether any
	// of them is satisfied by the registry.
	IsSuccessful(reg *testrun.Registry) bool

	// Rules returns the configured rules in evaluation order.
	Rules() []Rule
}

// NewEvaluator creates an evaluator over rules. An empty rule set uses
// DefaultRules.
func NewEvaluator(log logrus.FieldLogger, rules ...Rule) Evaluator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	return &evaluator{
		log:   log.WithField("component", "evaluator"),
		rules: rules,
	}
}

type evaluator struct {
	log   logrus.FieldLogger
	rules []Rule
}

// Ensure interface compliance.
var _ Evaluator = (*evaluator)(nil)

// IsSuccessful implements Evaluator.
func (e *evaluator) IsSuccessful(reg *testrun.Registry) bool {
	for _, rule := range e.rules {
		ok, err := e.check(rule, reg)
		if err != nil {
			e.log.WithError(err).WithField("rule", rule.String()).
				Warn("Success rule failed, treating as not satisfied")

			continue
		}

		if ok {
			e.log.WithField("rule", rule.String()).Debug("Success rule satisfied")

			return true
		}
	}

	return false
}

// Rules implements Evaluator.
func (e *evaluator) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)

	return out
}

// check runs a single rule, converting a panic into an error.
func (e *evaluator) check(rule Rule, reg *testrun.Registry) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()

	return rule.satisfied(reg)
}
