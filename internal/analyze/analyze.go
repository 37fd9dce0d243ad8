// Package analyze aggregates focus records into per-application, per-day
// and per-interval totals. All durations are milliseconds.
package analyze

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"focusd/internal/record"
)

// Errors
var (
	ErrInvalidInterval  = errors.New("analyze: interval must be positive")
	ErrUnknownOperation = errors.New("analyze: unknown operation")
)

// AppTotal is the focus time of one application.
type AppTotal struct {
	AppID  record.AppID `json:"app_id" yaml:"app_id"`
	Millis int64        `json:"millis" yaml:"millis"`
}

// GroupByApp sums record durations per application.
func GroupByApp(records []record.FocusRecord) map[record.AppID]int64 {
	out := make(map[record.AppID]int64)
	for _, r := range records {
		out[r.AppID] += r.Duration()
	}
	return out
}

// Ranked orders totals by descending time, then ascending app id.
func Ranked(totals map[record.AppID]int64) []AppTotal {
	out := make([]AppTotal, 0, len(totals))
	for id, ms := range totals {
		out = append(out, AppTotal{AppID: id, Millis: ms})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Millis != out[j].Millis {
			return out[i].Millis > out[j].Millis
		}
		return out[i].AppID < out[j].AppID
	})
	return out
}

// LocalDay is the day number of ms shifted by tzOffset.
func LocalDay(ms int64, tzOffset time.Duration) int64 {
	return floorDiv(ms+tzOffset.Milliseconds(), record.MillisPerDay)
}

// GroupByDay sums record durations per local day. A record crossing local
// midnight is split between the days it touches.
func GroupByDay(records []record.FocusRecord, tzOffset time.Duration) map[int64]int64 {
	out := make(map[int64]int64)
	for _, r := range records {
		eachDay(r, tzOffset, func(day, ms int64) { out[day] += ms })
	}
	return out
}

// GroupByDayApp sums record durations per local day and application.
func GroupByDayApp(records []record.FocusRecord, tzOffset time.Duration) map[int64]map[record.AppID]int64 {
	out := make(map[int64]map[record.AppID]int64)
	for _, r := range records {
		eachDay(r, tzOffset, func(day, ms int64) {
			m := out[day]
			if m == nil {
				m = make(map[record.AppID]int64)
				out[day] = m
			}
			m[r.AppID] += ms
		})
	}
	return out
}

func eachDay(r record.FocusRecord, tzOffset time.Duration, fn func(day, ms int64)) {
	shift := tzOffset.Milliseconds()
	from, to := r.FocusAt+shift, r.BlurAt+shift
	for from < to {
		day := floorDiv(from, record.MillisPerDay)
		end := min(to, (day+1)*record.MillisPerDay)
		fn(day, end-from)
		from = end
	}
}

// Operation selects how AggregateByInterval folds the pieces of a bucket.
type Operation int

const (
	// Sum adds the focus time inside each bucket.
	Sum Operation = iota
	// Count is 1 for every bucket with any focus time.
	Count
	// CountIfCompletelyContain counts the records that fill a bucket
	// completely.
	CountIfCompletelyContain
)

var operationNames = map[Operation]string{
	Sum:                      "sum",
	Count:                    "count",
	CountIfCompletelyContain: "count_if_completely_contain",
}

func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return "unknown"
}

// ParseOperation parses an operation name as printed by String.
func ParseOperation(s string) (Operation, error) {
	for op, name := range operationNames {
		if strings.EqualFold(s, name) {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// IntervalQuery parameterizes AggregateByInterval.
type IntervalQuery struct {
	// Start aligns the buckets: bucket k covers
	// [Start + k*Interval, Start + (k+1)*Interval).
	Start    int64
	Interval int64
	Op       Operation

	// Apps keeps only the listed applications when non-empty.
	Apps []record.AppID

	// MergeApps folds every application into app id 0.
	MergeApps bool
}

// Bucket is one aggregated interval of one application.
type Bucket struct {
	AppID record.AppID `json:"app_id" yaml:"app_id"`
	Start int64        `json:"start" yaml:"start"`
	Value int64        `json:"value" yaml:"value"`
}

// AggregateByInterval splits records at bucket boundaries and folds the
// pieces per application and bucket. The result is ordered by app id, then
// bucket start.
func AggregateByInterval(records []record.FocusRecord, q IntervalQuery) ([]Bucket, error) {
	if q.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if _, ok := operationNames[q.Op]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOperation, q.Op)
	}

	var keep map[record.AppID]bool
	if len(q.Apps) > 0 {
		keep = make(map[record.AppID]bool, len(q.Apps))
		for _, id := range q.Apps {
			keep[id] = true
		}
	}

	type key struct {
		app   record.AppID
		start int64
	}
	acc := make(map[key]int64)

	for _, r := range records {
		if keep != nil && !keep[r.AppID] {
			continue
		}
		app := r.AppID
		if q.MergeApps {
			app = 0
		}

		cursor := r.FocusAt - floorMod(r.FocusAt-q.Start, q.Interval)
		for cursor < r.BlurAt {
			next := cursor + q.Interval
			piece := min(r.BlurAt, next) - max(r.FocusAt, cursor)
			k := key{app: app, start: cursor}

			switch q.Op {
			case Sum:
				acc[k] += piece
			case Count:
				acc[k] = 1
			case CountIfCompletelyContain:
				if piece == q.Interval {
					acc[k]++
				} else if _, ok := acc[k]; !ok {
					acc[k] = 0
				}
			}
			cursor = next
		}
	}

	out := make([]Bucket, 0, len(acc))
	for k, v := range acc {
		out = append(out, Bucket{AppID: k.app, Start: k.start, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppID != out[j].AppID {
			return out[i].AppID < out[j].AppID
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}
