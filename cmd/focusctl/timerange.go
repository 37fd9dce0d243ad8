package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// timeRange holds the --from and --to flags of a command.
type timeRange struct {
	from string
	to   string
	utc  bool
}

func (r *timeRange) register(cmd *cobra.Command, defaultFrom string) {
	cmd.Flags().StringVar(&r.from, "from", defaultFrom, "start: now, today, yesterday, -<duration> (-2h, -7d), YYYY-MM-DD or RFC 3339")
	cmd.Flags().StringVar(&r.to, "to", "now", "end, same forms as --from")
	cmd.Flags().BoolVar(&r.utc, "utc", false, "use UTC instead of the local time zone")
}

// resolve returns [start, end) in milliseconds and the zone offset used
// for day boundaries.
func (r *timeRange) resolve(now time.Time) (start, end int64, tzOffset time.Duration, err error) {
	if r.utc {
		now = now.UTC()
	}
	from, err := parseWhen(r.from, now)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("--from: %w", err)
	}
	to, err := parseWhen(r.to, now)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("--to: %w", err)
	}
	if to.Before(from) {
		return 0, 0, 0, fmt.Errorf("--to %s is before --from %s", r.to, r.from)
	}
	_, offset := from.Zone()
	return from.UnixMilli(), to.UnixMilli(), time.Duration(offset) * time.Second, nil
}

func parseWhen(s string, now time.Time) (time.Time, error) {
	switch s {
	case "", "now":
		return now, nil
	case "today":
		return midnight(now), nil
	case "yesterday":
		return midnight(now).AddDate(0, 0, -1), nil
	}

	if rest, ok := strings.CutPrefix(s, "-"); ok {
		d, err := parseSpan(rest)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(-d), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(now.Location()), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// parseSpan parses a Go duration, also accepting a whole number of days
// written as "7d".
func parseSpan(s string) (time.Duration, error) {
	if n, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(n)
		if err != nil || days < 0 {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
