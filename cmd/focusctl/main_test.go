package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusd/internal/config"
	"focusd/internal/engine"
	"focusd/internal/health"
	"focusd/internal/ipc"
	"focusd/internal/metrics"
	"focusd/internal/record"
	"focusd/internal/registry"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(h, m int) int64 {
	return day0.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute).UnixMilli()
}

type fixture struct {
	dir     string
	dataDir string
	socket  string
}

// newFixture isolates the environment and seeds a data directory with
// three spans, the last of which crosses UTC midnight.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir, err := os.MkdirTemp("", "fctl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	t.Setenv("HOME", dir)
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "cfg"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(dir, "run"))
	for _, v := range []string{"CONFIG", "DATA_DIR", "LOG_LEVEL", "LOG_PATH", "SOCKET", "RULES", "EXPORT_DB", "POLL_INTERVAL"} {
		t.Setenv(config.EnvPrefix+v, "")
	}

	f := &fixture{
		dir:     dir,
		dataDir: filepath.Join(dir, "store"),
		socket:  filepath.Join(dir, "d.sock"),
	}

	e, err := engine.Open(f.dataDir, engine.WithClock(func() time.Time { return day0 }))
	require.NoError(t, err)
	for _, s := range []record.Span{
		{Path: "/usr/bin/editor", FocusAt: at(9, 0), BlurAt: at(10, 0)},
		{Path: "/usr/bin/browser", FocusAt: at(10, 0), BlurAt: at(10, 30)},
		{Path: "/usr/bin/editor", FocusAt: at(23, 30), BlurAt: at(24, 30)},
	} {
		require.NoError(t, e.WriteSpan(s))
	}
	require.NoError(t, e.Close())
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	base := []string{
		"--config", filepath.Join(f.dir, "none.toml"),
		"--data-dir", f.dataDir,
		"--socket", f.socket,
	}
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(base, args...))
	err := root.Execute()
	return out.String(), err
}

func (f *fixture) runJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	out, err := f.run(t, append(args, "-o", "json")...)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

// serve starts a daemon-side IPC server on the fixture's data directory.
func (f *fixture) serve(t *testing.T) *engine.Engine {
	t.Helper()
	m := metrics.NewFocusMetrics(metrics.NewRegistry("focusd"))
	e, err := engine.Open(f.dataDir, engine.WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	checker := health.NewChecker()
	checker.RegisterFunc("storage", true, health.WritableDirCheck(f.dataDir))
	checker.RegisterFunc("flaky", false, health.CustomCheck(func() error { return errors.New("flaked") }))
	checker.SetReady(true)

	h := ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{Engine: e, Metrics: m, Health: checker, Version: "test"})
	srv := ipc.NewServer(ipc.ServerConfig{SocketPath: f.socket}, h)
	h.AttachServer(srv)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return e
}

var dayRange = []string{"--utc", "--from", "2024-03-01", "--to", "2024-03-03"}

func TestQueryOffline(t *testing.T) {
	f := newFixture(t)

	var rows []queryRow
	f.runJSON(t, &rows, append([]string{"query"}, dayRange...)...)
	require.Len(t, rows, 4)
	assert.Equal(t, "/usr/bin/editor", rows[0].Path)
	assert.Equal(t, int64(3_600_000), rows[0].Duration)
	assert.Equal(t, "/usr/bin/browser", rows[1].Path)
	// The midnight-crossing span is stored as two records.
	assert.Equal(t, at(24, 0), rows[2].BlurAt)
	assert.Equal(t, at(24, 0), rows[3].FocusAt)
	assert.Equal(t, rows[2].AppID, rows[3].AppID)

	f.runJSON(t, &rows, "query", "--utc", "--from", "2024-03-01T09:30:00Z", "--to", "2024-03-01T10:15:00Z", "--app", "/usr/bin/editor")
	require.Len(t, rows, 1)
	assert.Equal(t, at(9, 30), rows[0].FocusAt)
	assert.Equal(t, at(10, 0), rows[0].BlurAt)
}

func TestQueryTable(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, append([]string{"query"}, dayRange...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "/usr/bin/editor")
	assert.Contains(t, out, "1h00m00s")
	assert.Contains(t, out, "30m00s")

	out, err = f.run(t, "query", "--utc", "--from", "2023-01-01", "--to", "2023-01-02")
	require.NoError(t, err)
	assert.Contains(t, out, "(no data)")
}

func TestQueryErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "query", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")

	_, err = f.run(t, "query", "--from", "2024-03-02", "--to", "2024-03-01")
	assert.ErrorContains(t, err, "before")

	_, err = f.run(t, "query", "--from", "last tuesday")
	assert.Error(t, err)

	_, err = f.run(t, "query", "--app", "/usr/bin/unknown")
	assert.ErrorContains(t, err, "unknown application")
}

func TestReportByApp(t *testing.T) {
	f := newFixture(t)

	var rows []appReport
	f.runJSON(t, &rows, append([]string{"report", "--by", "app"}, dayRange...)...)
	require.Len(t, rows, 2)
	assert.Equal(t, "/usr/bin/editor", rows[0].Path)
	assert.Equal(t, int64(7_200_000), rows[0].Millis)
	assert.InDelta(t, 0.8, rows[0].Share, 1e-9)
	assert.Equal(t, "/usr/bin/browser", rows[1].Path)
	assert.Equal(t, int64(1_800_000), rows[1].Millis)

	out, err := f.run(t, append([]string{"report"}, dayRange...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "80.0%")
	assert.Contains(t, out, "total")
}

func TestReportByDay(t *testing.T) {
	f := newFixture(t)

	var rows []dayReport
	f.runJSON(t, &rows, append([]string{"report", "--by", "day"}, dayRange...)...)
	assert.Equal(t, []dayReport{
		{Date: "2024-03-01", Millis: 7_200_000},
		{Date: "2024-03-02", Millis: 1_800_000},
	}, rows)
}

func TestReportByInterval(t *testing.T) {
	f := newFixture(t)

	var rows []bucketReport
	f.runJSON(t, &rows, append([]string{"report", "--by", "interval", "--interval", "12h", "--merge"}, dayRange...)...)
	assert.Equal(t, []bucketReport{
		{Path: "(all)", Start: at(0, 0), Value: 5_400_000},
		{Path: "(all)", Start: at(12, 0), Value: 1_800_000},
		{Path: "(all)", Start: at(24, 0), Value: 1_800_000},
	}, rows)

	_, err := f.run(t, append([]string{"report", "--by", "interval", "--op", "median"}, dayRange...)...)
	assert.Error(t, err)

	_, err = f.run(t, append([]string{"report", "--by", "week"}, dayRange...)...)
	assert.ErrorContains(t, err, "unknown grouping")
}

func TestAppsAndDays(t *testing.T) {
	f := newFixture(t)

	var apps []registry.App
	f.runJSON(t, &apps, "apps")
	assert.Equal(t, []registry.App{
		{ID: 0, Path: "/usr/bin/editor"},
		{ID: 1, Path: "/usr/bin/browser"},
	}, apps)

	var days []dayRow
	f.runJSON(t, &days, "days")
	require.NotEmpty(t, days)
	assert.Equal(t, "2024-03-01", days[0].Date)
	assert.Equal(t, "2024-03-02", days[len(days)-1].Date)

	out, err := f.run(t, "days")
	require.NoError(t, err)
	assert.Contains(t, out, "History from")
}

func TestExportIsIncremental(t *testing.T) {
	f := newFixture(t)
	db := filepath.Join(f.dir, "export.db")

	var rep exportReport
	f.runJSON(t, &rep, "export", "--db", db, "--totals")
	assert.Equal(t, int64(4), rep.Inserted)
	assert.Equal(t, 2, rep.Apps)
	require.Len(t, rep.Totals, 2)
	assert.Equal(t, "/usr/bin/editor", rep.Totals[0].Path)
	assert.Equal(t, int64(7_200_000), rep.Totals[0].Millis)

	f.runJSON(t, &rep, "export", "--db", db)
	assert.Equal(t, int64(0), rep.Inserted)

	f.runJSON(t, &rep, "export", "--db", db, "--full", "--batch", "3")
	assert.Equal(t, int64(0), rep.Inserted)
	assert.Equal(t, int64(4), rep.Skipped)
}

func TestDaemonOnlyCommandsNeedDaemon(t *testing.T) {
	f := newFixture(t)

	for _, cmd := range []string{"status", "suspend", "resume", "metrics", "health"} {
		_, err := f.run(t, cmd)
		assert.ErrorContains(t, err, "not running", cmd)
	}
}

func TestCommandsAgainstDaemon(t *testing.T) {
	f := newFixture(t)
	e := f.serve(t)

	var st ipc.StatusResponse
	f.runJSON(t, &st, "status")
	assert.Equal(t, "test", st.Version)
	assert.Equal(t, uint64(4), st.Engine.Records)

	out, err := f.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "focusd test")
	assert.Contains(t, out, "disabled")

	var state ipc.StateResponse
	f.runJSON(t, &state, "suspend")
	assert.Equal(t, engine.Suspended.String(), state.State)
	assert.Equal(t, engine.Suspended, e.State())

	f.runJSON(t, &state, "resume")
	assert.Equal(t, engine.Running.String(), state.State)

	var rows []queryRow
	f.runJSON(t, &rows, append([]string{"query"}, dayRange...)...)
	assert.Len(t, rows, 4)

	out, err = f.run(t, "metrics", "--prometheus")
	require.NoError(t, err)
	assert.Contains(t, out, "focusd_records 4")

	out, err = f.run(t, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "degraded")
	assert.Contains(t, out, "flaked")

	var report health.Report
	f.runJSON(t, &report, "health")
	assert.Equal(t, health.StatusHealthy, report.Components["storage"].Status)
	assert.Equal(t, health.StatusDegraded, report.Status)
}
