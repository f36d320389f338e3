package evaluator

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/rttmon/pkg/testrun"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrNotBool is returned when an expression rule yields a non-boolean value.
var ErrNotBool = errors.New("expression did not return bool")

// RuleKind enumerates the supported success rule variants.
type RuleKind string

const (
	// RuleTerminalStatus is satisfied when any test reports the rule's status.
	RuleTerminalStatus RuleKind = "terminal_status"
	// RuleAllPass is satisfied when at least one test exists and all pass.
	RuleAllPass RuleKind = "all_pass"
	// RuleExpression is satisfied when a user expression evaluates to true.
	RuleExpression RuleKind = "expression"
)

// Rule is one clause of the success decision. Construct it with
// TerminalStatus, AllPass or Expression.
type Rule struct {
	Kind RuleKind

	// Status is the terminal status for RuleTerminalStatus.
	Status testrun.TestStatus

	// Source is the expression text for RuleExpression.
	Source  string
	program *vm.Program
}

// TerminalStatus returns a rule satisfied when any test holds status.
func TerminalStatus(status testrun.TestStatus) Rule {
	return Rule{Kind: RuleTerminalStatus, Status: status}
}

// AllPass returns a rule satisfied when the registry is non-empty and every
// test has passed.
func AllPass() Rule {
	return Rule{Kind: RuleAllPass}
}

// Expression compiles a boolean expression over the registry. The
// expression sees these variables:
//
//	total, init, running, passed, failed, complete  int
//	tests                                            map[string]string (name -> status token)
func Expression(source string) (Rule, error) {
	program, err := expr.Compile(source, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return Rule{}, fmt.Errorf("compile rule %q: %w", source, err)
	}

	return Rule{Kind: RuleExpression, Source: source, program: program}, nil
}

// String describes the rule for logs.
func (r Rule) String() string {
	switch r.Kind {
	case RuleTerminalStatus:
		return fmt.Sprintf("%s(%s)", r.Kind, r.Status)
	case RuleExpression:
		return fmt.Sprintf("%s(%s)", r.Kind, r.Source)
	default:
		return string(r.Kind)
	}
}

// satisfied evaluates the rule against the registry.
func (r Rule) satisfied(reg *testrun.Registry) (bool, error) {
	switch r.Kind {
	case RuleTerminalStatus:
		found := false

		reg.Each(func(res *testrun.TestResult) bool {
			found = res.Status == r.Status

			return !found
		})

		return found, nil
	case RuleAllPass:
		if reg.Len() == 0 {
			return false, nil
		}

		allPass := true

		reg.Each(func(res *testrun.TestResult) bool {
			allPass = res.Status == testrun.StatusPass

			return allPass
		})

		return allPass, nil
	case RuleExpression:
		if r.program == nil {
			return false, fmt.Errorf("rule %q was not compiled", r.Source)
		}

		out, err := expr.Run(r.program, newExprEnv(reg))
		if err != nil {
			return false, fmt.Errorf("eval rule %q: %w", r.Source, err)
		}

		ok, isBool := out.(bool)
		if !isBool {
			return false, fmt.Errorf("%w: rule %q got %T", ErrNotBool, r.Source, out)
		}

		return ok, nil
	default:
		return false, fmt.Errorf("unknown rule kind %q", r.Kind)
	}
}

// exprEnv is the variable set exposed to expression rules.
type exprEnv struct {
	Total    int               `expr:"total"`
	Init     int               `expr:"init"`
	Running  int               `expr:"running"`
	Passed   int               `expr:"passed"`
	Failed   int               `expr:"failed"`
	Complete int               `expr:"complete"`
	Tests    map[string]string `expr:"tests"`
}

func newExprEnv(reg *testrun.Registry) exprEnv {
	counts := reg.CountByStatus()

	env := exprEnv{
		Total:    reg.Len(),
		Init:     counts[testrun.StatusInit],
		Running:  counts[testrun.StatusRunning],
		Passed:   counts[testrun.StatusPass],
		Failed:   counts[testrun.StatusFail],
		Complete: counts[testrun.StatusComplete],
		Tests:    make(map[string]string, reg.Len()),
	}

	reg.Each(func(res *testrun.TestResult) bool {
		env.Tests[res.Name] = res.Status.String()

		return true
	})

	return env
}
