package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusd/internal/dayindex"
	"focusd/internal/metrics"
	"focusd/internal/record"
	"focusd/internal/registry"
)

const sec = int64(record.MillisPerSecond)

func clockAt(ms int64) Option {
	return WithClock(func() time.Time { return time.UnixMilli(ms) })
}

func openTestEngine(t *testing.T, opts ...Option) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, dir
}

func writeSpans(t *testing.T, e *Engine, spans ...record.Span) {
	t.Helper()
	for _, s := range spans {
		require.NoError(t, e.WriteSpan(s))
	}
}

// fixtureSpans are the spans [500,1000), [1500,2000), [2500,2600),
// [2600,2700), [2900,3000) in seconds.
func fixtureSpans() []record.Span {
	return []record.Span{
		{Path: "/a", FocusAt: 500 * sec, BlurAt: 1000 * sec},
		{Path: "/b", FocusAt: 1500 * sec, BlurAt: 2000 * sec},
		{Path: "/a", FocusAt: 2500 * sec, BlurAt: 2600 * sec},
		{Path: "/b", FocusAt: 2600 * sec, BlurAt: 2700 * sec},
		{Path: "/c", FocusAt: 2900 * sec, BlurAt: 3000 * sec},
	}
}

func span(a, b int64) [2]int64 { return [2]int64{a * sec, b * sec} }

func intervals(recs []record.FocusRecord) [][2]int64 {
	out := make([][2]int64, len(recs))
	for i, r := range recs {
		out[i] = [2]int64{r.FocusAt, r.BlurAt}
	}
	return out
}

// =============================================================================
// Write Path Tests
// =============================================================================

func TestWriteSpanPersistsRecords(t *testing.T) {
	e, _ := openTestEngine(t, clockAt(0))
	writeSpans(t, e, fixtureSpans()...)

	got := e.ReadByCursor(0, 100, Forward).Records
	require.Len(t, got, 5)
	assert.Equal(t, record.FocusRecord{AppID: 0, FocusAt: 500 * sec, BlurAt: 1000 * sec}, got[0])
	assert.Equal(t, record.AppID(1), got[1].AppID)
	assert.Equal(t, record.AppID(0), got[2].AppID)
	assert.Equal(t, record.AppID(2), got[4].AppID)

	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].FocusAt, got[i].FocusAt)
	}
}

func TestWriteSpanRejectsNoise(t *testing.T) {
	m := metrics.NewFocusMetrics(metrics.NewRegistry("test"))
	e, _ := openTestEngine(t, clockAt(0), WithMetrics(m))

	writeSpans(t, e,
		record.Span{Path: "", FocusAt: 0, BlurAt: 60 * sec},
		record.Span{Path: "/a", FocusAt: 0, BlurAt: 999},
	)

	assert.Equal(t, uint64(0), e.Stats().Records)
	assert.Equal(t, 0, e.Stats().Apps)
	assert.Equal(t, uint64(2), m.SpansRejected.Value())
}

func TestWriteSpanSplitsAcrossDays(t *testing.T) {
	day := uint64(100)
	start := record.StartOfDay(day)
	e, _ := openTestEngine(t, clockAt(start))

	writeSpans(t, e,
		record.Span{Path: "/a", FocusAt: start + 3600*sec, BlurAt: start + 7200*sec},
		// Day 101 has no activity; this span runs from late day 102 into day 103.
		record.Span{Path: "/b", FocusAt: record.StartOfDay(103) - 600*sec, BlurAt: record.StartOfDay(103) + 600*sec},
	)

	assert.Equal(t, uint64(3), e.Stats().Records)
	assert.Equal(t, []DayEntry{
		{Day: 100, StartMillis: record.StartOfDay(100), Offset: 0},
		{Day: 101, StartMillis: record.StartOfDay(101), Offset: 1},
		{Day: 102, StartMillis: record.StartOfDay(102), Offset: 1},
		{Day: 103, StartMillis: record.StartOfDay(103), Offset: 2},
	}, e.Days())

	assert.Empty(t, e.ReadByTimestamp(record.StartOfDay(101), record.StartOfDay(102)-sec))

	got := e.ReadByTimestamp(record.StartOfDay(102), record.StartOfDay(104))
	assert.Equal(t, [][2]int64{
		{record.StartOfDay(103) - 600*sec, record.StartOfDay(103)},
		{record.StartOfDay(103), record.StartOfDay(103) + 600*sec},
	}, intervals(got))
}

func TestWriteSpanDropsSubSecondDayPiece(t *testing.T) {
	midnight := record.StartOfDay(101)
	e, _ := openTestEngine(t, clockAt(record.StartOfDay(100)))

	writeSpans(t, e, record.Span{Path: "/a", FocusAt: midnight - 500, BlurAt: midnight + 10*sec})

	all := e.ReadByCursor(0, 10, Forward).Records
	assert.Equal(t, [][2]int64{{midnight, midnight + 10*sec}}, intervals(all))

	got := e.ReadByTimestamp(midnight-5*sec, midnight+5*sec)
	assert.Equal(t, [][2]int64{{midnight, midnight + 5*sec}}, intervals(got))
	for _, r := range got {
		assert.Positive(t, r.Duration())
	}
}

func TestWriteSpanWhileSuspended(t *testing.T) {
	e, _ := openTestEngine(t, clockAt(0))

	e.Suspend()
	assert.Equal(t, Suspended, e.State())
	writeSpans(t, e, record.Span{Path: "/a", FocusAt: 10 * sec, BlurAt: 20 * sec})
	assert.Equal(t, uint64(0), e.Stats().Records)

	e.Resume()
	assert.Equal(t, Running, e.State())
	writeSpans(t, e, record.Span{Path: "/a", FocusAt: 30 * sec, BlurAt: 40 * sec})
	assert.Equal(t, uint64(1), e.Stats().Records)
}

func TestOptimizeNotSupported(t *testing.T) {
	e, _ := openTestEngine(t, clockAt(0))
	assert.ErrorIs(t, e.Optimize(), ErrNotSupported)
}

// =============================================================================
// Query Tests
// =============================================================================

func TestReadByTimestampTrim(t *testing.T) {
	e, _ := openTestEngine(t, clockAt(0))
	writeSpans(t, e, fixtureSpans()...)

	tests := []struct {
		name       string
		start, end int64
		want       [][2]int64
	}{
		{"everything", 0, 3000 * sec, [][2]int64{span(500, 1000), span(1500, 2000), span(2500, 2600), span(2600, 2700), span(2900, 3000)}},
		{"reversed", 2000 * sec, 1000 * sec, [][2]int64{}},
		{"empty range", 1000 * sec, 1000 * sec, [][2]int64{}},
		{"boundaries excluded", 1000 * sec, 1500 * sec, [][2]int64{}},
		{"clamp start", 500 * sec, 1500 * sec, [][2]int64{span(500, 1000)}},
		{"start at blur", 1000 * sec, 2000 * sec, [][2]int64{span(1500, 2000)}},
		{"inside gap end", 1000 * sec, 2500 * sec, [][2]int64{span(1500, 2000)}},
		{"inside one record", 777 * sec, 888 * sec, [][2]int64{span(777, 888)}},
		{"multi record", 800 * sec, 2620 * sec, [][2]int64{span(800, 1000), span(1500, 2000), span(2500, 2600), span(2600, 2620)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, intervals(e.ReadByTimestamp(tt.start, tt.end)))
		})
	}
}

func TestReadByTimestampOutsideHistory(t *testing.T) {
	start := record.StartOfDay(100)
	e, _ := openTestEngine(t, clockAt(start))
	writeSpans(t, e, record.Span{Path: "/a", FocusAt: start + 60*sec, BlurAt: start + 120*sec})

	assert.Empty(t, e.ReadByTimestamp(record.StartOfDay(90), record.StartOfDay(95)))
	assert.Empty(t, e.ReadByTimestamp(record.StartOfDay(200), record.StartOfDay(201)))

	// A range starting before history still sees the first day.
	got := e.ReadByTimestamp(record.StartOfDay(90), record.StartOfDay(101))
	assert.Equal(t, [][2]int64{{start + 60*sec, start + 120*sec}}, intervals(got))
}

func TestTrimMilliseconds(t *testing.T) {
	recs := []record.FocusRecord{
		{AppID: 0, FocusAt: 500, BlurAt: 1000},
		{AppID: 1, FocusAt: 1500, BlurAt: 2000},
		{AppID: 0, FocusAt: 2500, BlurAt: 2600},
		{AppID: 1, FocusAt: 2600, BlurAt: 2700},
		{AppID: 2, FocusAt: 2900, BlurAt: 3000},
	}

	got := Trim(recs, 800, 2620)
	assert.Equal(t, []record.FocusRecord{
		{AppID: 0, FocusAt: 800, BlurAt: 1000},
		{AppID: 1, FocusAt: 1500, BlurAt: 2000},
		{AppID: 0, FocusAt: 2500, BlurAt: 2600},
		{AppID: 1, FocusAt: 2600, BlurAt: 2620},
	}, got)

	assert.Empty(t, Trim(recs, 1000, 1500))
	assert.Empty(t, Trim(nil, 0, 10))
	// The input is not modified.
	assert.Equal(t, int64(500), recs[0].FocusAt)
}

func TestReadByCursor(t *testing.T) {
	e, _ := openTestEngine(t, clockAt(0))
	writeSpans(t, e, fixtureSpans()...)

	p := e.ReadByCursor(0, 2, Forward)
	assert.Equal(t, [][2]int64{span(500, 1000), span(1500, 2000)}, intervals(p.Records))
	assert.Equal(t, uint64(2), p.Next)
	assert.True(t, p.More)

	p = e.ReadByCursor(p.Next, 10, Forward)
	assert.Len(t, p.Records, 3)
	assert.Equal(t, uint64(5), p.Next)
	assert.False(t, p.More)

	p = e.ReadByCursor(EndCursor, 2, Backward)
	assert.Equal(t, [][2]int64{span(2600, 2700), span(2900, 3000)}, intervals(p.Records))
	assert.Equal(t, uint64(3), p.Next)
	assert.True(t, p.More)

	p = e.ReadByCursor(1, 5, Backward)
	assert.Equal(t, [][2]int64{span(500, 1000)}, intervals(p.Records))
	assert.Equal(t, uint64(0), p.Next)
	assert.False(t, p.More)

	p = e.ReadByCursor(0, 0, Forward)
	assert.Empty(t, p.Records)
	assert.True(t, p.More)
}

// =============================================================================
// Registry, Metadata and Lifecycle Tests
// =============================================================================

func TestAppLookups(t *testing.T) {
	e, _ := openTestEngine(t, clockAt(0))
	writeSpans(t, e, fixtureSpans()...)

	assert.Equal(t, []registry.App{{ID: 0, Path: "/a"}, {ID: 1, Path: "/b"}, {ID: 2, Path: "/c"}}, e.Apps())

	p, err := e.AppPath(1)
	require.NoError(t, err)
	assert.Equal(t, "/b", p)

	_, err = e.AppPath(9)
	assert.ErrorIs(t, err, registry.ErrNotFound)

	id, err := e.AppID("/c")
	require.NoError(t, err)
	assert.Equal(t, record.AppID(2), id)
}

func TestStartTimestamp(t *testing.T) {
	now := record.StartOfDay(20_000) + 5*3600*sec
	e, _ := openTestEngine(t, clockAt(now))
	assert.Equal(t, record.StartOfDay(20_000), e.StartTimestamp())
}

func TestReopenKeepsHistory(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(dir, clockAt(0))
	require.NoError(t, err)
	writeSpans(t, e, fixtureSpans()...)
	require.NoError(t, e.Close())

	// A later clock must not move the base day of an existing directory.
	e2, err := Open(dir, clockAt(record.StartOfDay(50)))
	require.NoError(t, err)
	defer e2.Close()

	assert.Equal(t, int64(0), e2.StartTimestamp())
	assert.Len(t, e2.ReadByTimestamp(0, 3000*sec), 5)

	writeSpans(t, e2, record.Span{Path: "/d", FocusAt: 4000 * sec, BlurAt: 4100 * sec})
	assert.Len(t, e2.ReadByTimestamp(0, 5000*sec), 6)
}

func TestReopenRepairsIndexAfterFailedUpdate(t *testing.T) {
	dir := t.TempDir()
	day := func(d uint64, h int64) int64 { return record.StartOfDay(d) + h*3600*sec }

	e, err := Open(dir, clockAt(day(100, 0)))
	require.NoError(t, err)
	writeSpans(t, e,
		record.Span{Path: "/a", FocusAt: day(100, 1), BlurAt: day(100, 2)},
		record.Span{Path: "/b", FocusAt: day(103, 1), BlurAt: day(103, 2)},
	)

	// The record is appended, then the index refuses the update.
	require.NoError(t, e.index.Close())
	err = e.WriteSpan(record.Span{Path: "/a", FocusAt: day(105, 1), BlurAt: day(105, 2)})
	require.ErrorIs(t, err, dayindex.ErrClosed)
	assert.Equal(t, uint64(3), e.Stats().Records)

	// Nothing more is appended while the index cannot be repaired.
	err = e.WriteSpan(record.Span{Path: "/a", FocusAt: day(106, 1), BlurAt: day(106, 2)})
	require.ErrorIs(t, err, dayindex.ErrClosed)
	assert.Equal(t, uint64(3), e.Stats().Records)
	require.NoError(t, e.Close())

	e, err = Open(dir, clockAt(day(106, 0)))
	require.NoError(t, err)
	defer e.Close()

	days := e.Days()
	require.Len(t, days, 6)
	assert.Equal(t, DayEntry{Day: 104, StartMillis: record.StartOfDay(104), Offset: 2}, days[4])
	assert.Equal(t, DayEntry{Day: 105, StartMillis: record.StartOfDay(105), Offset: 2}, days[5])

	got := e.ReadByTimestamp(record.StartOfDay(105), record.StartOfDay(106))
	assert.Equal(t, [][2]int64{{day(105, 1), day(105, 2)}}, intervals(got))
}

func TestOpenReadOnly(t *testing.T) {
	e, dir := openTestEngine(t, clockAt(0))
	writeSpans(t, e, fixtureSpans()...)

	ro, err := OpenReadOnly(dir, clockAt(0))
	require.NoError(t, err)
	defer ro.Close()

	assert.True(t, ro.ReadOnly())
	assert.Equal(t, e.ReadByTimestamp(0, 3000*sec), ro.ReadByTimestamp(0, 3000*sec))
	assert.Equal(t, e.Meta().InstanceID, ro.Meta().InstanceID)
	assert.True(t, e.Meta().CreatedAt.Equal(ro.Meta().CreatedAt))
	assert.ErrorIs(t, ro.WriteSpan(record.Span{Path: "/z", FocusAt: 0, BlurAt: 5 * sec}), ErrReadOnly)
}

func TestOpenReadOnlyEmptyDir(t *testing.T) {
	dir := t.TempDir()
	ro, err := OpenReadOnly(dir, clockAt(record.StartOfDay(7)))
	require.NoError(t, err)
	defer ro.Close()

	assert.Empty(t, ro.ReadByTimestamp(0, record.StartOfDay(10)))
	_, err = os.Stat(filepath.Join(dir, MetaFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestMetaCreatedAndBumped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, MetaFileName)
	require.NoError(t, os.WriteFile(path, []byte("engine_version = \"1.0.0\"\ninstance_id = \"abc\"\n"), 0600))

	e, err := Open(dir, clockAt(0))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	var m Meta
	_, err = toml.DecodeFile(path, &m)
	require.NoError(t, err)
	assert.Equal(t, Version, m.EngineVersion)
	assert.Equal(t, "abc", m.InstanceID)
}

func TestMetaNewDirectory(t *testing.T) {
	e, _ := openTestEngine(t, clockAt(1_700_000_000_000))
	m := e.Meta()

	assert.Equal(t, Version, m.EngineVersion)
	assert.NotEmpty(t, m.InstanceID)
	assert.Equal(t, int64(1_700_000_000), m.CreatedAt.Unix())
}

func TestMetaNewerMajorRefused(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFileName), []byte("engine_version = \"9.0.0\"\n"), 0600))

	_, err := Open(dir, clockAt(0))
	assert.ErrorIs(t, err, ErrIncompatibleData)

	_, err = OpenReadOnly(dir, clockAt(0))
	assert.ErrorIs(t, err, ErrIncompatibleData)
}

func TestStats(t *testing.T) {
	e, _ := openTestEngine(t, clockAt(0))
	writeSpans(t, e, fixtureSpans()...)

	s := e.Stats()
	assert.Equal(t, uint64(5), s.Records)
	assert.Equal(t, 3, s.Apps)
	assert.Equal(t, "running", s.State)
	assert.False(t, s.ReadOnly)
	assert.Equal(t, Version, s.EngineVersion)
}
