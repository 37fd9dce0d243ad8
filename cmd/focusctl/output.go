package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

var (
	accent      = lipgloss.Color("#7D56F4")
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// tabular is the table rendering of a result. Columns listed in numeric
// are right-aligned.
type tabular struct {
	headers []string
	rows    [][]string
	numeric map[int]bool
}

func (t tabular) render() string {
	tb := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(t.headers...).
		Rows(t.rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case t.numeric[col]:
				return numberStyle
			default:
				return cellStyle
			}
		})
	return tb.Render()
}

// emit writes v as JSON or YAML, or the table built by tab.
func emit(w io.Writer, format string, v any, tab func() tabular) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		t := tab()
		if len(t.rows) == 0 {
			_, err := fmt.Fprintln(w, dimStyle.Render("(no data)"))
			return err
		}
		_, err := fmt.Fprintln(w, t.render())
		return err
	}
}

// fields renders label/value pairs, one per line.
func fields(w io.Writer, title string, kv [][2]string) {
	if title != "" {
		fmt.Fprintln(w, titleStyle.Render(title))
	}
	width := 0
	for _, p := range kv {
		width = max(width, len(p[0]))
	}
	for _, p := range kv {
		label := labelStyle.Render(p[0] + ":")
		fmt.Fprintf(w, "  %s%s %s\n", label, strings.Repeat(" ", width-len(p[0])), p[1])
	}
}

// formatMillis renders a duration in milliseconds as 1h02m03s.
func formatMillis(ms int64) string {
	d := (time.Duration(ms) * time.Millisecond).Round(time.Second)
	if d < time.Minute {
		return d.String()
	}
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	if h == 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
}

func formatStamp(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

func formatPercent(part, total int64) string {
	if total == 0 {
		return "0.0%"
	}
	return strconv.FormatFloat(float64(part)*100/float64(total), 'f', 1, 64) + "%"
}

func formatDay(day int64) string {
	return time.Unix(day*86400, 0).UTC().Format("2006-01-02")
}
