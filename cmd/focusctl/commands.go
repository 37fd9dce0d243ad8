package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"focusd/internal/analyze"
	"focusd/internal/engine"
	"focusd/internal/health"
	"focusd/internal/ipc"
	"focusd/internal/record"
	"focusd/internal/registry"
)

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, store and tracking status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			st, err := client.Status(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if opts.format != formatTable {
				return emit(w, opts.format, st, nil)
			}
			printStatus(w, st)
			return nil
		},
	}
}

func printStatus(w io.Writer, st *ipc.StatusResponse) {
	fields(w, "focusd "+st.Version, [][2]string{
		{"Uptime", st.Uptime.Round(time.Second).String()},
		{"Ready", strconv.FormatBool(st.Ready)},
		{"Clients", strconv.Itoa(st.Clients)},
		{"Data dir", st.DataDir},
		{"Instance", st.Meta.InstanceID},
	})
	fmt.Fprintln(w)

	first := "-"
	if st.Engine.Records > 0 {
		first = formatStamp(st.Engine.StartTimestamp)
	}
	fields(w, "Store", [][2]string{
		{"State", st.Engine.State},
		{"Records", strconv.FormatUint(st.Engine.Records, 10)},
		{"Apps", strconv.Itoa(st.Engine.Apps)},
		{"History from", first},
		{"Engine", st.Engine.EngineVersion},
	})
	fmt.Fprintln(w)

	if st.Tracking == nil {
		fields(w, "Tracking", [][2]string{{"State", "disabled"}})
		return
	}
	tr := st.Tracking
	current := "-"
	if tr.CurrentPath != "" {
		current = fmt.Sprintf("%s (since %s)", tr.CurrentPath, formatStamp(tr.CurrentSince))
	}
	kv := [][2]string{
		{"Source", tr.Source},
		{"Current", current},
		{"Spans", strconv.FormatUint(tr.Spans, 10)},
		{"Poll interval", tr.PollInterval.String()},
	}
	if tr.WriteErrors > 0 {
		kv = append(kv, [2]string{"Write errors", fmt.Sprintf("%d (last: %s)", tr.WriteErrors, tr.LastError)})
	}
	fields(w, "Tracking", kv)
}

func appsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List registered applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := opts.openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			apps, err := b.Apps(ctx)
			if err != nil {
				return err
			}
			if apps == nil {
				apps = []registry.App{}
			}
			return emit(cmd.OutOrStdout(), opts.format, apps, func() tabular {
				t := tabular{headers: []string{"ID", "Path"}, numeric: map[int]bool{0: true}}
				for _, a := range apps {
					t.rows = append(t.rows, []string{strconv.FormatUint(uint64(a.ID), 10), a.Path})
				}
				return t
			})
		},
	}
}

// queryRow is one record as printed by query.
type queryRow struct {
	AppID    record.AppID `json:"app_id" yaml:"app_id"`
	Path     string       `json:"path" yaml:"path"`
	FocusAt  int64        `json:"focus_at" yaml:"focus_at"`
	BlurAt   int64        `json:"blur_at" yaml:"blur_at"`
	Duration int64        `json:"duration_ms" yaml:"duration_ms"`
}

func queryCmd(opts *options) *cobra.Command {
	var (
		tr   timeRange
		apps []string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print the focus records in a time range",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, _, err := tr.resolve(time.Now())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			b, err := opts.openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			recs, err := b.ReadRange(ctx, start, end)
			if err != nil {
				return err
			}
			names, err := appNames(ctx, b)
			if err != nil {
				return err
			}
			keep, err := appFilter(names, apps)
			if err != nil {
				return err
			}

			rows := []queryRow{}
			for _, r := range recs {
				if keep != nil && !keep[r.AppID] {
					continue
				}
				rows = append(rows, queryRow{
					AppID:    r.AppID,
					Path:     names[r.AppID],
					FocusAt:  r.FocusAt,
					BlurAt:   r.BlurAt,
					Duration: r.Duration(),
				})
			}

			return emit(cmd.OutOrStdout(), opts.format, rows, func() tabular {
				t := tabular{headers: []string{"App", "Focus", "Blur", "Duration"}, numeric: map[int]bool{3: true}}
				for _, r := range rows {
					t.rows = append(t.rows, []string{r.Path, formatStamp(r.FocusAt), formatStamp(r.BlurAt), formatMillis(r.Duration)})
				}
				return t
			})
		},
	}
	tr.register(cmd, "-24h")
	cmd.Flags().StringSliceVar(&apps, "app", nil, "only records of these application paths")
	return cmd
}

// appFilter resolves paths to a set of app ids. A nil set keeps every app.
func appFilter(names map[record.AppID]string, paths []string) (map[record.AppID]bool, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	ids := make(map[string]record.AppID, len(names))
	for id, p := range names {
		ids[p] = id
	}
	keep := make(map[record.AppID]bool, len(paths))
	for _, p := range paths {
		id, ok := ids[p]
		if !ok {
			return nil, fmt.Errorf("unknown application %q", p)
		}
		keep[id] = true
	}
	return keep, nil
}

// appReport is one line of the per-application report.
type appReport struct {
	AppID  record.AppID `json:"app_id" yaml:"app_id"`
	Path   string       `json:"path" yaml:"path"`
	Millis int64        `json:"millis" yaml:"millis"`
	Share  float64      `json:"share" yaml:"share"`
}

// dayReport is one line of the per-day report.
type dayReport struct {
	Date   string `json:"date" yaml:"date"`
	Millis int64  `json:"millis" yaml:"millis"`
}

// bucketReport is one line of the per-interval report.
type bucketReport struct {
	Path  string `json:"path" yaml:"path"`
	Start int64  `json:"start" yaml:"start"`
	Value int64  `json:"value" yaml:"value"`
}

func reportCmd(opts *options) *cobra.Command {
	var (
		tr       timeRange
		by       string
		interval string
		op       string
		merge    bool
		apps     []string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize focus time per application, day or interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, tzOffset, err := tr.resolve(time.Now())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			b, err := opts.openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			recs, err := b.ReadRange(ctx, start, end)
			if err != nil {
				return err
			}
			names, err := appNames(ctx, b)
			if err != nil {
				return err
			}
			keep, err := appFilter(names, apps)
			if err != nil {
				return err
			}
			if keep != nil {
				kept := recs[:0]
				for _, r := range recs {
					if keep[r.AppID] {
						kept = append(kept, r)
					}
				}
				recs = kept
			}

			w := cmd.OutOrStdout()
			switch by {
			case "app":
				return emitAppReport(w, opts.format, recs, names)
			case "day":
				return emitDayReport(w, opts.format, recs, tzOffset)
			case "interval":
				d, err := parseSpan(interval)
				if err != nil || d <= 0 {
					return fmt.Errorf("--interval: invalid duration %q", interval)
				}
				operation, err := analyze.ParseOperation(op)
				if err != nil {
					return err
				}
				buckets, err := analyze.AggregateByInterval(recs, analyze.IntervalQuery{
					Start:     start,
					Interval:  d.Milliseconds(),
					Op:        operation,
					MergeApps: merge,
				})
				if err != nil {
					return err
				}
				return emitBucketReport(w, opts.format, buckets, names, operation, merge)
			default:
				return fmt.Errorf("--by: unknown grouping %q (valid: app, day, interval)", by)
			}
		},
	}
	tr.register(cmd, "today")
	cmd.Flags().StringVar(&by, "by", "app", "grouping: app, day or interval")
	cmd.Flags().StringVar(&interval, "interval", "1h", "bucket size for --by interval")
	cmd.Flags().StringVar(&op, "op", analyze.Sum.String(), "bucket operation: sum, count, count_if_completely_contain")
	cmd.Flags().BoolVar(&merge, "merge", false, "fold every application into one series")
	cmd.Flags().StringSliceVar(&apps, "app", nil, "only these application paths")
	return cmd
}

func emitAppReport(w io.Writer, format string, recs []record.FocusRecord, names map[record.AppID]string) error {
	totals := analyze.Ranked(analyze.GroupByApp(recs))
	var sum int64
	for _, t := range totals {
		sum += t.Millis
	}

	rows := make([]appReport, 0, len(totals))
	for _, t := range totals {
		share := 0.0
		if sum > 0 {
			share = float64(t.Millis) / float64(sum)
		}
		rows = append(rows, appReport{AppID: t.AppID, Path: names[t.AppID], Millis: t.Millis, Share: share})
	}

	return emit(w, format, rows, func() tabular {
		t := tabular{headers: []string{"App", "Time", "Share"}, numeric: map[int]bool{1: true, 2: true}}
		for _, r := range rows {
			t.rows = append(t.rows, []string{r.Path, formatMillis(r.Millis), formatPercent(r.Millis, sum)})
		}
		if len(rows) > 0 {
			t.rows = append(t.rows, []string{"total", formatMillis(sum), formatPercent(sum, sum)})
		}
		return t
	})
}

func emitDayReport(w io.Writer, format string, recs []record.FocusRecord, tzOffset time.Duration) error {
	byDay := analyze.GroupByDay(recs, tzOffset)
	days := make([]int64, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	rows := make([]dayReport, 0, len(days))
	for _, d := range days {
		rows = append(rows, dayReport{Date: formatDay(d), Millis: byDay[d]})
	}

	return emit(w, format, rows, func() tabular {
		t := tabular{headers: []string{"Day", "Time"}, numeric: map[int]bool{1: true}}
		for _, r := range rows {
			t.rows = append(t.rows, []string{r.Date, formatMillis(r.Millis)})
		}
		return t
	})
}

func emitBucketReport(w io.Writer, format string, buckets []analyze.Bucket, names map[record.AppID]string, op analyze.Operation, merged bool) error {
	rows := make([]bucketReport, 0, len(buckets))
	for _, b := range buckets {
		path := names[b.AppID]
		if merged {
			path = "(all)"
		}
		rows = append(rows, bucketReport{Path: path, Start: b.Start, Value: b.Value})
	}

	return emit(w, format, rows, func() tabular {
		t := tabular{headers: []string{"App", "Bucket", op.String()}, numeric: map[int]bool{2: true}}
		for _, r := range rows {
			v := strconv.FormatInt(r.Value, 10)
			if op == analyze.Sum {
				v = formatMillis(r.Value)
			}
			t.rows = append(t.rows, []string{r.Path, formatStamp(r.Start), v})
		}
		return t
	})
}

// dayRow is one indexed day as printed by days.
type dayRow struct {
	engine.DayEntry `yaml:",inline"`
	Date            string `json:"date" yaml:"date"`
}

func daysCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "days",
		Short: "List the days in the day index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := opts.openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			days, err := b.Days(ctx)
			if err != nil {
				return err
			}
			rows := make([]dayRow, 0, len(days))
			for _, d := range days {
				rows = append(rows, dayRow{DayEntry: d, Date: formatDay(int64(d.Day))})
			}

			w := cmd.OutOrStdout()
			if opts.format == formatTable && len(rows) > 0 {
				start, err := b.StartTimestamp(ctx)
				if err != nil {
					return err
				}
				fields(w, "", [][2]string{{"History from", formatStamp(start)}})
			}
			return emit(w, opts.format, rows, func() tabular {
				t := tabular{headers: []string{"Day", "Date", "First record"}, numeric: map[int]bool{0: true, 2: true}}
				for _, r := range rows {
					t.rows = append(t.rows, []string{
						strconv.FormatUint(r.Day, 10),
						r.Date,
						strconv.FormatUint(r.Offset, 10),
					})
				}
				return t
			})
		},
	}
}

func suspendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "suspend",
		Short: "Stop recording focus spans until resumed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			state, err := client.Suspend(ctx)
			if err != nil {
				return err
			}
			return emitState(cmd.OutOrStdout(), opts.format, state)
		},
	}
}

func resumeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume recording focus spans",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			state, err := client.Resume(ctx)
			if err != nil {
				return err
			}
			return emitState(cmd.OutOrStdout(), opts.format, state)
		},
	}
}

func emitState(w io.Writer, format, state string) error {
	if format != formatTable {
		return emit(w, format, ipc.StateResponse{State: state}, nil)
	}
	fields(w, "", [][2]string{{"State", state}})
	return nil
}

func metricsCmd(opts *options) *cobra.Command {
	var prometheus bool

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show daemon metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Metrics(ctx, prometheus)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if prometheus {
				_, err := io.WriteString(w, resp.Prometheus)
				return err
			}

			names := make([]string, 0, len(resp.Values))
			for n := range resp.Values {
				names = append(names, n)
			}
			sort.Strings(names)
			return emit(w, opts.format, resp.Values, func() tabular {
				t := tabular{headers: []string{"Metric", "Value"}, numeric: map[int]bool{1: true}}
				for _, n := range names {
					t.rows = append(t.rows, []string{n, strconv.FormatFloat(resp.Values[n], 'g', -1, 64)})
				}
				return t
			})
		},
	}
	cmd.Flags().BoolVar(&prometheus, "prometheus", false, "print the Prometheus text exposition")
	return cmd
}

func healthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run the daemon's health checks",
		Long:  "Run the daemon's health checks. Exits non-zero when the daemon reports itself unhealthy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			r, err := client.Health(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if opts.format == formatTable {
				fields(w, "Health", [][2]string{
					{"Status", string(r.Status)},
					{"Ready", strconv.FormatBool(r.Ready)},
					{"Uptime", r.Uptime.Round(time.Second).String()},
				})
				fmt.Fprintln(w)
			}
			err = emit(w, opts.format, r, func() tabular {
				t := tabular{headers: []string{"Check", "Status", "Detail"}}
				for _, name := range r.Names() {
					c := r.Components[name]
					detail := c.Message
					if c.Error != "" {
						detail = c.Error
					}
					t.rows = append(t.rows, []string{name, string(c.Status), detail})
				}
				return t
			})
			if err != nil {
				return err
			}
			if r.Status == health.StatusUnhealthy {
				return fmt.Errorf("focusd is unhealthy")
			}
			return nil
		},
	}
}
