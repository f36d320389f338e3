package testrun

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	current := start

	return func() time.Time {
		current = current.Add(time.Millisecond)

		return current
	}
}

func TestParseTestStatus(t *testing.T) {
	tests := []struct {
		token   string
		want    TestStatus
		wantErr bool
	}{
		{token: "TEST_INIT", want: StatusInit},
		{token: "TEST_RUNNING", want: StatusRunning},
		{token: "TEST_PASS", want: StatusPass},
		{token: "TEST_FAIL", want: StatusFail},
		{token: "TEST_COMPLETE", want: StatusComplete},
		{token: "TEST_SKIP", wantErr: true},
		{token: "test_pass", wantErr: true},
		{token: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := ParseTestStatus(tt.token)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownStatus)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTestStatus_UnmarshalRejectsUnknown(t *testing.T) {
	var s TestStatus

	require.NoError(t, json.Unmarshal([]byte(`"TEST_FAIL"`), &s))
	assert.Equal(t, StatusFail, s)

	err := json.Unmarshal([]byte(`"TEST_BOGUS"`), &s)
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestRegistry_ApplyStatus(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	reg := NewRegistry(fixedClock(start))

	assert.True(t, reg.ApplyStatus("t1", StatusInit))

	first, ok := reg.Get("t1")
	require.True(t, ok)

	created := first.Timestamp

	assert.False(t, reg.ApplyStatus("t1", StatusRunning))

	again, ok := reg.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, again.Status)
	assert.Equal(t, created, again.Timestamp, "timestamp is fixed at creation")
	assert.Nil(t, again.DurationMS)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_ApplyResult(t *testing.T) {
	reg := NewRegistry(nil)

	t.Run("unknown test is dropped", func(t *testing.T) {
		assert.False(t, reg.ApplyResult("ghost", StatusFail, 12))
		assert.Equal(t, 0, reg.Len())

		_, ok := reg.Get("ghost")
		assert.False(t, ok)
	})

	t.Run("known test receives outcome and duration", func(t *testing.T) {
		reg.ApplyStatus("t1", StatusRunning)

		assert.True(t, reg.ApplyResult("t1", StatusPass, 42))

		res, ok := reg.Get("t1")
		require.True(t, ok)
		assert.Equal(t, StatusPass, res.Status)
		require.NotNil(t, res.DurationMS)
		assert.Equal(t, int64(42), *res.DurationMS)
	})

	t.Run("later result overwrites duration", func(t *testing.T) {
		assert.True(t, reg.ApplyResult("t1", StatusFail, 7))

		res, _ := reg.Get("t1")
		assert.Equal(t, StatusFail, res.Status)
		assert.Equal(t, int64(7), *res.DurationMS)
	})
}

func TestRegistry_NamesKeepFirstSeenOrder(t *testing.T) {
	reg := NewRegistry(nil)

	reg.ApplyStatus("b", StatusInit)
	reg.ApplyStatus("a", StatusInit)
	reg.ApplyStatus("b", StatusPass)
	reg.ApplyStatus("c", StatusFail)

	assert.Equal(t, []string{"b", "a", "c"}, reg.Names())

	counts := reg.CountByStatus()
	assert.Equal(t, 1, counts[StatusInit])
	assert.Equal(t, 1, counts[StatusPass])
	assert.Equal(t, 1, counts[StatusFail])
}

func TestRegistry_SnapshotIsDetached(t *testing.T) {
	reg := NewRegistry(nil)
	reg.ApplyStatus("t1", StatusRunning)
	reg.ApplyResult("t1", StatusPass, 5)

	snap := reg.Snapshot()
	snap["t1"].Status = StatusFail
	*snap["t1"].DurationMS = 99

	res, _ := reg.Get("t1")
	assert.Equal(t, StatusPass, res.Status)
	assert.Equal(t, int64(5), *res.DurationMS)
}

func TestNewRunSummary(t *testing.T) {
	tests := []struct {
		name                  string
		total, passed, failed int
		wantRate              float64
	}{
		{name: "partial pass", total: 10, passed: 7, failed: 3, wantRate: 70.0},
		{name: "empty run", total: 0, passed: 0, failed: 0, wantRate: 0},
		{name: "all pass", total: 4, passed: 4, failed: 0, wantRate: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRunSummary(tt.total, tt.passed, tt.failed)
			assert.Equal(t, tt.total, s.Total)
			assert.Equal(t, tt.passed, s.Passed)
			assert.Equal(t, tt.failed, s.Failed)
			assert.InDelta(t, tt.wantRate, s.SuccessRate, 1e-9)
		})
	}
}

func TestRun_RecordAndSummary(t *testing.T) {
	run := NewRun(nil)

	assert.Nil(t, run.Summary())

	run.Record("hello")
	run.Record("world")
	run.SetSummary(NewRunSummary(2, 1, 1))

	log := run.RawLog()
	require.Len(t, log, 2)
	assert.Equal(t, "hello", log[0].Raw)
	assert.Equal(t, "world", log[1].Raw)

	summary := run.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Total)

	summary.Total = 100
	assert.Equal(t, 2, run.Summary().Total, "summary copy must not alias run state")
}
