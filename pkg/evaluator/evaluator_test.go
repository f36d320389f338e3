package evaluator

import (
	"io"
	"testing"

	"github.com/ethpandaops/rttmon/pkg/testrun"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func registryWith(statuses map[string]testrun.TestStatus) *testrun.Registry {
	reg := testrun.NewRegistry(nil)
	for name, status := range statuses {
		reg.ApplyStatus(name, status)
	}

	return reg
}

func TestEvaluator_DefaultRules(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]testrun.TestStatus
		want     bool
	}{
		{
			name:     "empty registry",
			statuses: map[string]testrun.TestStatus{},
			want:     false,
		},
		{
			name: "single pass",
			statuses: map[string]testrun.TestStatus{
				"t1": testrun.StatusPass,
			},
			want: true,
		},
		{
			name: "all pass",
			statuses: map[string]testrun.TestStatus{
				"t1": testrun.StatusPass,
				"t2": testrun.StatusPass,
			},
			want: true,
		},
		{
			name: "one still running",
			statuses: map[string]testrun.TestStatus{
				"t1": testrun.StatusPass,
				"t2": testrun.StatusRunning,
			},
			want: false,
		},
		{
			name: "failure without completion",
			statuses: map[string]testrun.TestStatus{
				"t1": testrun.StatusPass,
				"t2": testrun.StatusFail,
			},
			want: false,
		},
		{
			name: "complete despite failure",
			statuses: map[string]testrun.TestStatus{
				"t1":        testrun.StatusFail,
				"All Tests": testrun.StatusComplete,
			},
			want: true,
		},
		{
			name: "init only",
			statuses: map[string]testrun.TestStatus{
				"Test Framework": testrun.StatusInit,
			},
			want: false,
		},
	}

	eval := NewEvaluator(discardLogger())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registryWith(tt.statuses)

			assert.Equal(t, tt.want, eval.IsSuccessful(reg))
			assert.Equal(t, tt.want, eval.IsSuccessful(reg), "evaluation is idempotent")
		})
	}
}

func TestEvaluator_FaultyRuleIsSkipped(t *testing.T) {
	broken := Rule{Kind: RuleExpression, Source: "never compiled"}
	unknown := Rule{Kind: RuleKind("bogus")}

	eval := NewEvaluator(discardLogger(), broken, unknown, AllPass())

	reg := registryWith(map[string]testrun.TestStatus{"t1": testrun.StatusPass})
	assert.True(t, eval.IsSuccessful(reg), "later rules still run after a fault")

	reg = registryWith(map[string]testrun.TestStatus{"t1": testrun.StatusRunning})
	assert.False(t, eval.IsSuccessful(reg))
}

func TestEvaluator_RulesReturnsCopy(t *testing.T) {
	eval := NewEvaluator(discardLogger())

	rules := eval.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, RuleTerminalStatus, rules[0].Kind)
	assert.Equal(t, testrun.StatusComplete, rules[0].Status)
	assert.Equal(t, RuleAllPass, rules[1].Kind)

	rules[0] = AllPass()
	assert.Equal(t, RuleTerminalStatus, eval.Rules()[0].Kind)
}

func TestExpression(t *testing.T) {
	t.Run("compile error", func(t *testing.T) {
		_, err := Expression("passed +")
		assert.Error(t, err)
	})

	t.Run("non boolean rejected at compile time", func(t *testing.T) {
		_, err := Expression("total")
		assert.Error(t, err)
	})

	t.Run("counts", func(t *testing.T) {
		rule, err := Expression("passed >= 2 && failed == 0")
		require.NoError(t, err)

		eval := NewEvaluator(discardLogger(), rule)

		reg := registryWith(map[string]testrun.TestStatus{
			"t1": testrun.StatusPass,
			"t2": testrun.StatusRunning,
		})
		assert.False(t, eval.IsSuccessful(reg))

		reg.ApplyStatus("t2", testrun.StatusPass)
		assert.True(t, eval.IsSuccessful(reg))

		reg.ApplyStatus("t3", testrun.StatusFail)
		assert.False(t, eval.IsSuccessful(reg))
	})

	t.Run("per test lookup", func(t *testing.T) {
		rule, err := Expression(`tests["boot"] == "TEST_PASS"`)
		require.NoError(t, err)

		eval := NewEvaluator(discardLogger(), rule)

		reg := registryWith(map[string]testrun.TestStatus{"boot": testrun.StatusRunning})
		assert.False(t, eval.IsSuccessful(reg))

		reg.ApplyStatus("boot", testrun.StatusPass)
		assert.True(t, eval.IsSuccessful(reg))
	})
}

func TestRule_String(t *testing.T) {
	assert.Equal(t, "terminal_status(TEST_COMPLETE)", TerminalStatus(testrun.StatusComplete).String())
	assert.Equal(t, "all_pass", AllPass().String())

	rule, err := Expression("complete > 0")
	require.NoError(t, err)
	assert.Equal(t, "expression(complete > 0)", rule.String())
}
