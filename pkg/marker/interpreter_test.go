package marker

import (
	"io"
	"testing"

	"github.com/ethpandaops/rttmon/pkg/testrun"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInterpreter() *Interpreter {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return NewInterpreter(log, nil)
}

func TestInterpreter_ResultForKnownTest(t *testing.T) {
	interp := newTestInterpreter()
	run := testrun.NewRun(nil)

	interp.Apply(run, "STATUS:TEST_RUNNING:t1")
	interp.Apply(run, "RESULT:t1:PASS:250")

	res, ok := run.Registry().Get("t1")
	require.True(t, ok)
	assert.Equal(t, testrun.StatusPass, res.Status)
	require.NotNil(t, res.DurationMS)
	assert.Equal(t, int64(250), *res.DurationMS)
}

func TestInterpreter_ResultForUnknownTestIsDropped(t *testing.T) {
	interp := newTestInterpreter()
	run := testrun.NewRun(nil)

	interp.Apply(run, "RESULT:ghost:FAIL:10")

	assert.Equal(t, 0, run.Registry().Len())
	require.Equal(t, 1, run.RawLogLen())
	assert.Equal(t, "RESULT:ghost:FAIL:10", run.RawLog()[0].Raw)
}

func TestInterpreter_UnknownStatusDoesNotMutate(t *testing.T) {
	interp := newTestInterpreter()
	run := testrun.NewRun(nil)

	interp.Apply(run, "STATUS:TEST_RUNNING:t1")
	_, events := interp.Apply(run, "STATUS:TEST_BOGUS:t1")

	require.NotEmpty(t, events)
	assert.Equal(t, KindMalformed, events[0].Kind)

	res, _ := run.Registry().Get("t1")
	assert.Equal(t, testrun.StatusRunning, res.Status)
	assert.Equal(t, 2, run.RawLogLen())
}

func TestInterpreter_SummaryReturnedAndStored(t *testing.T) {
	interp := newTestInterpreter()
	run := testrun.NewRun(nil)

	summary, _ := interp.Apply(run, "SUMMARY:10:7:3")
	require.NotNil(t, summary)
	assert.Equal(t, testrun.NewRunSummary(10, 7, 3), *summary)
	assert.InDelta(t, 70.0, summary.SuccessRate, 1e-9)

	assert.Equal(t, 0, run.Registry().Len(), "summary must not touch the registry")
	assert.Equal(t, summary, run.Summary())

	none, _ := interp.Apply(run, "[1] [INFO] after summary")
	assert.Nil(t, none)
	assert.Equal(t, summary, run.Summary(), "latest summary survives non-summary lines")
}

func TestInterpreter_GenericLogIsIdempotent(t *testing.T) {
	interp := newTestInterpreter()
	run := testrun.NewRun(nil)

	interp.Apply(run, "STATUS:TEST_RUNNING:t1")

	before := run.Registry().Snapshot()

	interp.Apply(run, "[00000100] [INFO] sampling adc")
	afterFirst := run.Registry().Snapshot()

	interp.Apply(run, "[00000100] [INFO] sampling adc")
	afterSecond := run.Registry().Snapshot()

	assert.Equal(t, before, afterFirst)
	assert.Equal(t, afterFirst, afterSecond)
	assert.Equal(t, 3, run.RawLogLen())
}

func TestInterpreter_EmptyLinesNotRecorded(t *testing.T) {
	interp := newTestInterpreter()
	run := testrun.NewRun(nil)

	summary, events := interp.Apply(run, "   \r")

	assert.Nil(t, summary)
	assert.Empty(t, events)
	assert.Equal(t, 0, run.RawLogLen())
}

func TestInterpreter_StripsANSIBeforeParsing(t *testing.T) {
	interp := newTestInterpreter()
	run := testrun.NewRun(nil)

	line := "\x1b[32mSTATUS:TEST_PASS:t1\x1b[0m"
	interp.Apply(run, line)

	res, ok := run.Registry().Get("t1")
	require.True(t, ok)
	assert.Equal(t, testrun.StatusPass, res.Status)
	assert.Equal(t, line, run.RawLog()[0].Raw, "raw log keeps the line as received")
}
