package record

import "fmt"

// Span is a finished focus interval for an application path, before it has
// been resolved to an id and split for storage.
type Span struct {
	Path    string
	FocusAt int64
	BlurAt  int64
}

// Duration returns BlurAt - FocusAt in milliseconds.
func (s Span) Duration() int64 {
	return s.BlurAt - s.FocusAt
}

// Persistable reports whether s is worth writing: it names an application
// and lasts at least MinSpanMillis.
func (s Span) Persistable() bool {
	return s.Path != "" && s.Duration() >= MinSpanMillis
}

func (s Span) String() string {
	return fmt.Sprintf("%q [%d, %d)", s.Path, s.FocusAt, s.BlurAt)
}

// Split breaks [focusAt, blurAt) into records that never cross a UTC day
// boundary and never exceed DurationMax seconds. The records are contiguous
// and in chronological order.
//
// Split panics if blurAt < focusAt.
func Split(id AppID, focusAt, blurAt int64) []FocusRecord {
	if blurAt < focusAt {
		panic(fmt.Sprintf("record: split with blur_at %d before focus_at %d", blurAt, focusAt))
	}

	const maxMillis = DurationMax * MillisPerSecond

	var out []FocusRecord
	for cur := focusAt; cur < blurAt; {
		dayEnd := min(blurAt, StartOfNextDay(cur))
		for cur < dayEnd {
			end := min(dayEnd, cur+maxMillis)
			out = append(out, FocusRecord{AppID: id, FocusAt: cur, BlurAt: end})
			cur = end
		}
	}
	return out
}
