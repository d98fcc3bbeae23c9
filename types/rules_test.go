package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleWindowContains(t *testing.T) {
	monday := func(hour, min int) time.Time {
		return time.Date(2025, 6, 2, hour, min, 0, 0, time.UTC)
	}

	tests := []struct {
		name   string
		window ScheduleWindow
		at     time.Time
		want   bool
	}{
		{
			name:   "inside plain window",
			window: ScheduleWindow{StartMinute: 9 * 60, EndMinute: 17 * 60},
			at:     monday(12, 0),
			want:   true,
		},
		{
			name:   "end is exclusive",
			window: ScheduleWindow{StartMinute: 9 * 60, EndMinute: 17 * 60},
			at:     monday(17, 0),
			want:   false,
		},
		{
			name:   "start is inclusive",
			window: ScheduleWindow{StartMinute: 9 * 60, EndMinute: 17 * 60},
			at:     monday(9, 0),
			want:   true,
		},
		{
			name:   "midnight wrap before midnight",
			window: ScheduleWindow{StartMinute: 22 * 60, EndMinute: 6 * 60},
			at:     monday(23, 30),
			want:   true,
		},
		{
			name:   "midnight wrap after midnight",
			window: ScheduleWindow{StartMinute: 22 * 60, EndMinute: 6 * 60},
			at:     monday(5, 59),
			want:   true,
		},
		{
			name:   "midnight wrap outside",
			window: ScheduleWindow{StartMinute: 22 * 60, EndMinute: 6 * 60},
			at:     monday(12, 0),
			want:   false,
		},
		{
			name: "day restriction matches",
			window: ScheduleWindow{
				Days:        []time.Weekday{time.Monday},
				StartMinute: 0,
				EndMinute:   24 * 60,
			},
			at:   monday(12, 0),
			want: true,
		},
		{
			name: "day restriction excludes",
			window: ScheduleWindow{
				Days:        []time.Weekday{time.Saturday, time.Sunday},
				StartMinute: 0,
				EndMinute:   24 * 60,
			},
			at:   monday(12, 0),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.Contains(tt.at))
		})
	}
}

func TestCompareOps(t *testing.T) {
	assert.True(t, OpLT.Compare(1, 2))
	assert.False(t, OpLT.Compare(2, 2))
	assert.True(t, OpLTE.Compare(2, 2))
	assert.True(t, OpGT.Compare(3, 2))
	assert.False(t, OpGT.Compare(2, 2))
	assert.True(t, OpGTE.Compare(2, 2))
	assert.False(t, CompareOp("eq").Compare(2, 2))
}

func TestClampWeight(t *testing.T) {
	assert.Equal(t, 100.0, ClampWeight(150))
	assert.Equal(t, 0.0, ClampWeight(-5))
	assert.Equal(t, 42.5, ClampWeight(42.5))

	// An explicit zero stays zero; the loader default never applies here.
	p := Proxy{ID: "p1", Weight: 0}
	assert.Equal(t, 0.0, p.EffectiveWeight())
}

func TestStrategyValidity(t *testing.T) {
	for _, s := range []Strategy{
		StrategyRoundRobin, StrategyRandom, StrategyLeastUsed,
		StrategyFastest, StrategySticky, StrategyGeographic,
		StrategyFailureAware, StrategyTimeBased, StrategyWeighted,
		StrategyCustom,
	} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Strategy("round_robin").Valid())

	assert.True(t, StrategyWeighted.Simple())
	assert.False(t, StrategySticky.Simple())
	assert.False(t, StrategyCustom.Simple())
}
