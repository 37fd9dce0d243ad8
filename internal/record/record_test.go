package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Codec Tests
// =============================================================================

func TestEncodeLayout(t *testing.T) {
	r := FocusRecord{AppID: 0x0102, FocusAt: 0x0A0B0C0D * 1000, BlurAt: 0x0A0B0C0D*1000 + 0x0304*1000}
	b := Encode(r)

	assert.Equal(t, [Size]byte{0x02, 0x01, 0x04, 0x03, 0x0D, 0x0C, 0x0B, 0x0A}, b)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rec  FocusRecord
	}{
		{"zero duration", FocusRecord{AppID: 1, FocusAt: 1_700_000_000_000, BlurAt: 1_700_000_000_000}},
		{"one second", FocusRecord{AppID: 7, FocusAt: 1_700_000_000_000, BlurAt: 1_700_000_001_000}},
		{"max duration", FocusRecord{AppID: AppIDMax, FocusAt: 1_000, BlurAt: 1_000 + DurationMax*1000}},
		{"max app id", FocusRecord{AppID: AppIDMax, FocusAt: 4_000_000_000_000, BlurAt: 4_000_000_060_000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Encode(tt.rec)
			got, ok := Decode(b[:])
			require.True(t, ok)
			assert.Equal(t, tt.rec, got)
		})
	}
}

func TestDecodeTruncatesToSeconds(t *testing.T) {
	b := Encode(FocusRecord{AppID: 3, FocusAt: 10_999, BlurAt: 13_500})
	got, ok := Decode(b[:])
	require.True(t, ok)

	assert.Equal(t, AppID(3), got.AppID)
	assert.Equal(t, int64(10_000), got.FocusAt)
	assert.Equal(t, int64(12_000), got.BlurAt)
}

func TestEncodeTruncatesOutOfRange(t *testing.T) {
	b := Encode(FocusRecord{AppID: AppIDMax + 2, FocusAt: 0, BlurAt: (DurationMax + 1) * 1000})
	got, ok := Decode(b[:])
	require.True(t, ok)

	assert.Equal(t, AppID(1), got.AppID)
	assert.Equal(t, int64(0), got.Duration())
}

func TestDecodeShort(t *testing.T) {
	_, ok := Decode([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero(make([]byte, Size)))
	assert.False(t, IsZero([]byte{0, 0, 0, 0, 0, 0, 0, 1}))
	assert.False(t, IsZero([]byte{0, 0}))
}

func TestDayHelpers(t *testing.T) {
	assert.Equal(t, uint64(0), Day(0))
	assert.Equal(t, uint64(0), Day(MillisPerDay-1))
	assert.Equal(t, uint64(1), Day(MillisPerDay))
	assert.Equal(t, uint64(0), Day(-5))
	assert.Equal(t, int64(2*MillisPerDay), StartOfDay(2))
	assert.Equal(t, int64(MillisPerDay), StartOfNextDay(0))
	assert.Equal(t, int64(2*MillisPerDay), StartOfNextDay(MillisPerDay))
}

// =============================================================================
// Span / Split Tests
// =============================================================================

func TestSpanPersistable(t *testing.T) {
	assert.True(t, Span{Path: "/usr/bin/vim", FocusAt: 0, BlurAt: 1000}.Persistable())
	assert.False(t, Span{Path: "/usr/bin/vim", FocusAt: 0, BlurAt: 999}.Persistable())
	assert.False(t, Span{Path: "", FocusAt: 0, BlurAt: 60_000}.Persistable())
	assert.False(t, Span{Path: "/usr/bin/vim", FocusAt: 5000, BlurAt: 0}.Persistable())
}

func TestSplitWithinDay(t *testing.T) {
	got := Split(4, 1000, 61_000)
	assert.Equal(t, []FocusRecord{{AppID: 4, FocusAt: 1000, BlurAt: 61_000}}, got)
}

func TestSplitEmpty(t *testing.T) {
	assert.Empty(t, Split(1, 5000, 5000))
}

func TestSplitAcrossDays(t *testing.T) {
	focus := int64(MillisPerDay - 60_000)
	blur := int64(MillisPerDay + 30_000)

	got := Split(2, focus, blur)
	require.Len(t, got, 2)
	assert.Equal(t, FocusRecord{AppID: 2, FocusAt: focus, BlurAt: MillisPerDay}, got[0])
	assert.Equal(t, FocusRecord{AppID: 2, FocusAt: MillisPerDay, BlurAt: blur}, got[1])
}

func TestSplitDurationCap(t *testing.T) {
	// 20 hours starting at midnight of day 3: within one day, over the cap.
	focus := StartOfDay(3)
	blur := focus + 20*3600*1000

	got := Split(9, focus, blur)
	require.Len(t, got, 2)
	assert.Equal(t, int64(DurationMax*1000), got[0].Duration())
	assert.Equal(t, got[0].BlurAt, got[1].FocusAt)
	assert.Equal(t, blur, got[1].BlurAt)
}

func TestSplitReconstructsInterval(t *testing.T) {
	tests := []struct {
		name  string
		focus int64
		blur  int64
	}{
		{"three days", StartOfDay(10) + 5*3600*1000, StartOfDay(12) + 7*3600*1000},
		{"exact day", StartOfDay(1), StartOfDay(2)},
		{"week", StartOfDay(20) + 123_456, StartOfDay(27) + 1_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(1, tt.focus, tt.blur)
			require.NotEmpty(t, got)

			assert.Equal(t, tt.focus, got[0].FocusAt)
			assert.Equal(t, tt.blur, got[len(got)-1].BlurAt)
			for i, r := range got {
				assert.LessOrEqual(t, r.Duration(), int64(DurationMax*1000))
				assert.Equal(t, Day(r.FocusAt), Day(r.BlurAt-1), "record %d crosses a day", i)
				if i > 0 {
					assert.Equal(t, got[i-1].BlurAt, r.FocusAt, "gap before record %d", i)
				}
			}
		})
	}
}

func TestSplitPanicsOnReversedSpan(t *testing.T) {
	assert.Panics(t, func() { Split(1, 2000, 1000) })
}
