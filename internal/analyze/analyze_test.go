package analyze

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusd/internal/record"
)

const (
	hour = int64(3_600_000)
	day  = int64(record.MillisPerDay)
)

func rec(app record.AppID, from, to int64) record.FocusRecord {
	return record.FocusRecord{AppID: app, FocusAt: from, BlurAt: to}
}

func TestGroupByApp(t *testing.T) {
	totals := GroupByApp([]record.FocusRecord{
		rec(0, 0, 1000),
		rec(1, 1000, 4000),
		rec(0, 5000, 6000),
		rec(2, 6000, 8000),
	})
	assert.Equal(t, map[record.AppID]int64{0: 2000, 1: 3000, 2: 2000}, totals)

	assert.Equal(t, []AppTotal{
		{AppID: 1, Millis: 3000},
		{AppID: 0, Millis: 2000},
		{AppID: 2, Millis: 2000},
	}, Ranked(totals))

	assert.Empty(t, GroupByApp(nil))
}

func TestGroupByDay(t *testing.T) {
	records := []record.FocusRecord{
		rec(0, 1*hour, 2*hour),
		rec(1, day-hour, day+2*hour),
		rec(0, 3*day, 3*day+hour),
	}

	assert.Equal(t, map[int64]int64{
		0: 2 * hour,
		1: 2 * hour,
		3: hour,
	}, GroupByDay(records, 0))

	// UTC+2: the record at 23:00 UTC on day 0 starts at 01:00 local on day 1.
	assert.Equal(t, map[int64]int64{
		0: hour,
		1: 3 * hour,
		3: hour,
	}, GroupByDay(records, 2*time.Hour))

	// UTC-2: the first record now sits on local day -1.
	assert.Equal(t, map[int64]int64{
		-1: hour,
		0:  3 * hour,
		2:  hour,
	}, GroupByDay(records, -2*time.Hour))
}

func TestGroupByDaySpansSeveralDays(t *testing.T) {
	got := GroupByDay([]record.FocusRecord{rec(0, day/2, 2*day+day/2)}, 0)
	assert.Equal(t, map[int64]int64{0: day / 2, 1: day, 2: day / 2}, got)
}

func TestGroupByDayApp(t *testing.T) {
	got := GroupByDayApp([]record.FocusRecord{
		rec(0, 0, hour),
		rec(1, hour, 2*hour),
		rec(0, day-hour, day+hour),
	}, 0)

	assert.Equal(t, map[int64]map[record.AppID]int64{
		0: {0: 2 * hour, 1: hour},
		1: {0: hour},
	}, got)
}

func TestLocalDay(t *testing.T) {
	assert.Equal(t, int64(0), LocalDay(0, 0))
	assert.Equal(t, int64(-1), LocalDay(0, -time.Hour))
	assert.Equal(t, int64(1), LocalDay(day-1, time.Millisecond))
}

func TestAggregateByInterval(t *testing.T) {
	records := []record.FocusRecord{
		rec(0, 500, 2500),
		rec(1, 1000, 2000),
		rec(0, 3000, 3100),
	}

	tests := []struct {
		name string
		q    IntervalQuery
		want []Bucket
	}{
		{
			name: "sum",
			q:    IntervalQuery{Start: 0, Interval: 1000, Op: Sum},
			want: []Bucket{
				{AppID: 0, Start: 0, Value: 500},
				{AppID: 0, Start: 1000, Value: 1000},
				{AppID: 0, Start: 2000, Value: 500},
				{AppID: 0, Start: 3000, Value: 100},
				{AppID: 1, Start: 1000, Value: 1000},
			},
		},
		{
			name: "count",
			q:    IntervalQuery{Start: 0, Interval: 1000, Op: Count},
			want: []Bucket{
				{AppID: 0, Start: 0, Value: 1},
				{AppID: 0, Start: 1000, Value: 1},
				{AppID: 0, Start: 2000, Value: 1},
				{AppID: 0, Start: 3000, Value: 1},
				{AppID: 1, Start: 1000, Value: 1},
			},
		},
		{
			name: "count if completely contained",
			q:    IntervalQuery{Start: 0, Interval: 1000, Op: CountIfCompletelyContain},
			want: []Bucket{
				{AppID: 0, Start: 0, Value: 0},
				{AppID: 0, Start: 1000, Value: 1},
				{AppID: 0, Start: 2000, Value: 0},
				{AppID: 0, Start: 3000, Value: 0},
				{AppID: 1, Start: 1000, Value: 1},
			},
		},
		{
			name: "merged",
			q:    IntervalQuery{Start: 0, Interval: 2000, Op: Sum, MergeApps: true},
			want: []Bucket{
				{AppID: 0, Start: 0, Value: 2500},
				{AppID: 0, Start: 2000, Value: 600},
			},
		},
		{
			name: "filtered",
			q:    IntervalQuery{Start: 0, Interval: 2000, Op: Sum, Apps: []record.AppID{1}},
			want: []Bucket{
				{AppID: 1, Start: 0, Value: 1000},
			},
		},
		{
			name: "offset start",
			q:    IntervalQuery{Start: 700, Interval: 1000, Op: Sum, Apps: []record.AppID{1}},
			want: []Bucket{
				{AppID: 1, Start: 700, Value: 700},
				{AppID: 1, Start: 1700, Value: 300},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AggregateByInterval(records, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAggregateByIntervalRecordBeforeStart(t *testing.T) {
	got, err := AggregateByInterval([]record.FocusRecord{rec(0, 100, 600)}, IntervalQuery{Start: 500, Interval: 1000, Op: Sum})
	require.NoError(t, err)
	assert.Equal(t, []Bucket{
		{AppID: 0, Start: -500, Value: 400},
		{AppID: 0, Start: 500, Value: 100},
	}, got)
}

func TestAggregateByIntervalErrors(t *testing.T) {
	_, err := AggregateByInterval(nil, IntervalQuery{Interval: 0})
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = AggregateByInterval(nil, IntervalQuery{Interval: 10, Op: Operation(42)})
	assert.ErrorIs(t, err, ErrUnknownOperation)

	got, err := AggregateByInterval(nil, IntervalQuery{Interval: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseOperation(t *testing.T) {
	for _, op := range []Operation{Sum, Count, CountIfCompletelyContain} {
		got, err := ParseOperation(op.String())
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}

	got, err := ParseOperation("SUM")
	require.NoError(t, err)
	assert.Equal(t, Sum, got)

	_, err = ParseOperation("avg")
	assert.ErrorIs(t, err, ErrUnknownOperation)
	assert.Equal(t, "unknown", Operation(9).String())
}
