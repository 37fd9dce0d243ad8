// Package metrics provides Prometheus-compatible metrics for focusd.
//
// Metrics are kept in process and exposed over the control socket in the
// Prometheus text format or as a flat snapshot.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Labels represents metric labels.
type Labels map[string]string

// String returns the labels in Prometheus form, sorted by key.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(l))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, k, l[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels Labels
	value  atomic.Uint64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds v to the counter.
func (c *Counter) Add(v uint64) { c.value.Add(v) }

// Value returns the current value.
func (c *Counter) Value() uint64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels Labels
	value  atomic.Int64
}

// Set sets the gauge.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Add adds v to the gauge.
func (g *Gauge) Add(v int64) { g.value.Add(v) }

// Value returns the current value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  Labels
	buckets []float64

	mu     sync.Mutex
	counts []uint64 // per bucket, last slot is +Inf
	sum    float64
	count  uint64
}

// DurationBuckets are buckets for latency histograms, in seconds.
var DurationBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5,
}

func newHistogram(name, help string, labels Labels, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DurationBuckets
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)

	return &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: sorted,
		counts:  make([]uint64, len(sorted)+1),
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	h.counts[sort.SearchFloat64s(h.buckets, v)]++
}

// ObserveSince records the time elapsed since start, in seconds.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Registry holds registered metrics.
type Registry struct {
	mu         sync.RWMutex
	namespace  string
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates a Registry whose metric names are prefixed with
// namespace.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace:  namespace,
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

// Counter returns the counter called name, registering it on first use.
func (r *Registry) Counter(name, help string, labels Labels) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name)
	if c, ok := r.counters[full]; ok {
		return c
	}
	c := &Counter{name: full, help: help, labels: labels}
	r.counters[full] = c
	return c
}

// Gauge returns the gauge called name, registering it on first use.
func (r *Registry) Gauge(name, help string, labels Labels) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name)
	if g, ok := r.gauges[full]; ok {
		return g
	}
	g := &Gauge{name: full, help: help, labels: labels}
	r.gauges[full] = g
	return g
}

// Histogram returns the histogram called name, registering it on first use.
// A nil buckets slice selects DurationBuckets.
func (r *Registry) Histogram(name, help string, labels Labels, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name)
	if h, ok := r.histograms[full]; ok {
		return h
	}
	h := newHistogram(full, help, labels, buckets)
	r.histograms[full] = h
	return h
}

// WritePrometheus writes every metric in the Prometheus text format, sorted
// by name.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n", name, c.help, name)
		fmt.Fprintf(&b, "%s%s %d\n", name, c.labels, c.Value())
	}
	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n", name, g.help, name)
		fmt.Fprintf(&b, "%s%s %d\n", name, g.labels, g.Value())
	}
	for _, name := range sortedKeys(r.histograms) {
		h := r.histograms[name]
		h.mu.Lock()
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s histogram\n", name, h.help, name)

		prefix := "{"
		if s := h.labels.String(); s != "" {
			prefix = s[:len(s)-1] + ","
		}
		var cumulative uint64
		for i, bound := range h.buckets {
			cumulative += h.counts[i]
			fmt.Fprintf(&b, "%s_bucket%sle=\"%g\"} %d\n", name, prefix, bound, cumulative)
		}
		cumulative += h.counts[len(h.buckets)]
		fmt.Fprintf(&b, "%s_bucket%sle=\"+Inf\"} %d\n", name, prefix, cumulative)
		fmt.Fprintf(&b, "%s_sum%s %g\n", name, h.labels, h.sum)
		fmt.Fprintf(&b, "%s_count%s %d\n", name, h.labels, h.count)
		h.mu.Unlock()
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Snapshot returns the current value of every metric. Histograms contribute
// _count and _sum entries.
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]float64, len(r.counters)+len(r.gauges)+2*len(r.histograms))
	for name, c := range r.counters {
		out[name] = float64(c.Value())
	}
	for name, g := range r.gauges {
		out[name] = float64(g.Value())
	}
	for name, h := range r.histograms {
		out[name+"_count"] = float64(h.Count())
		out[name+"_sum"] = h.Sum()
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
