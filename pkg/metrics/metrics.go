// Metrics collection for the cancel-object host
//
// Counters, gauges and histograms keyed by label set, written out in the
// Prometheus text exposition format.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents the type of metric
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Labels represents metric labels as key-value pairs
type Labels map[string]string

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key generates a unique key for a label set
func (l Labels) Key() string {
	var sb strings.Builder
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// String returns labels in Prometheus format
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(escapeLabel(l[k]))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

// with returns a copy of l plus one extra label.
func (l Labels) with(key, value string) Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	out[key] = value
	return out
}

func (l Labels) clone() Labels {
	out := make(Labels, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is the interface for all metric types
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

func writeHeader(sb *strings.Builder, m Metric) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", m.Name(), m.Help(), m.Name(), m.Type())
}

// family holds the series of one metric. Series are written sorted by label
// key so output is stable between scrapes.
type family[V any] struct {
	mu     sync.RWMutex
	series map[string]*V
	labels map[string]Labels
}

func (f *family[V]) lookup(labels Labels) (*V, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.series[labels.Key()]
	return v, ok
}

func (f *family[V]) getOrCreate(labels Labels, init func() *V) *V {
	if v, ok := f.lookup(labels); ok {
		return v
	}
	key := labels.Key()
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.series[key]; ok {
		return v
	}
	if f.series == nil {
		f.series = make(map[string]*V)
		f.labels = make(map[string]Labels)
	}
	v := init()
	f.series[key] = v
	f.labels[key] = labels.clone()
	return v
}

func (f *family[V]) each(fn func(labels Labels, v *V)) {
	f.mu.RLock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	f.mu.RUnlock()
	sort.Strings(keys)

	for _, k := range keys {
		f.mu.RLock()
		v, labels := f.series[k], f.labels[k]
		f.mu.RUnlock()
		fn(labels, v)
	}
}

// Counter is a monotonically increasing metric
type Counter struct {
	name   string
	help   string
	values family[atomic.Uint64]
}

// NewCounter creates a new counter metric
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Help() string     { return c.help }
func (c *Counter) Type() MetricType { return TypeCounter }

// Inc increments the counter by 1
func (c *Counter) Inc(labels Labels) {
	c.Add(labels, 1)
}

// Add increments the counter by the given value
func (c *Counter) Add(labels Labels, delta uint64) {
	c.values.getOrCreate(labels, func() *atomic.Uint64 { return new(atomic.Uint64) }).Add(delta)
}

// Get returns the current counter value for labels
func (c *Counter) Get(labels Labels) uint64 {
	v, ok := c.values.lookup(labels)
	if !ok {
		return 0
	}
	return v.Load()
}

func (c *Counter) Write(sb *strings.Builder) {
	writeHeader(sb, c)
	c.values.each(func(labels Labels, v *atomic.Uint64) {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, labels, v.Load())
	})
}

type gaugeValue struct {
	mu    sync.Mutex
	value float64
}

// Gauge is a metric that can go up and down
type Gauge struct {
	name   string
	help   string
	values family[gaugeValue]
}

// NewGauge creates a new gauge metric
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Name() string     { return g.name }
func (g *Gauge) Help() string     { return g.help }
func (g *Gauge) Type() MetricType { return TypeGauge }

func (g *Gauge) value(labels Labels) *gaugeValue {
	return g.values.getOrCreate(labels, func() *gaugeValue { return &gaugeValue{} })
}

// Set sets the gauge to the given value
func (g *Gauge) Set(labels Labels, value float64) {
	gv := g.value(labels)
	gv.mu.Lock()
	gv.value = value
	gv.mu.Unlock()
}

// SetBool sets the gauge to 1 or 0.
func (g *Gauge) SetBool(labels Labels, on bool) {
	if on {
		g.Set(labels, 1)
	} else {
		g.Set(labels, 0)
	}
}

// Add adds the given value to the gauge
func (g *Gauge) Add(labels Labels, delta float64) {
	gv := g.value(labels)
	gv.mu.Lock()
	gv.value += delta
	gv.mu.Unlock()
}

// Inc increments the gauge by 1
func (g *Gauge) Inc(labels Labels) { g.Add(labels, 1) }

// Dec decrements the gauge by 1
func (g *Gauge) Dec(labels Labels) { g.Add(labels, -1) }

// Get returns the current gauge value for labels
func (g *Gauge) Get(labels Labels) float64 {
	gv, ok := g.values.lookup(labels)
	if !ok {
		return 0
	}
	gv.mu.Lock()
	defer gv.mu.Unlock()
	return gv.value
}

func (g *Gauge) Write(sb *strings.Builder) {
	writeHeader(sb, g)
	g.values.each(func(labels Labels, gv *gaugeValue) {
		gv.mu.Lock()
		v := gv.value
		gv.mu.Unlock()
		fmt.Fprintf(sb, "%s%s %s\n", g.name, labels, formatFloat(v))
	})
}

type histogramValue struct {
	mu      sync.Mutex
	count   uint64
	sum     float64
	buckets []uint64
}

// Histogram tracks the distribution of observations
type Histogram struct {
	name    string
	help    string
	buckets []float64
	values  family[histogramValue]
}

// NewHistogram creates a new histogram metric with the given upper bounds.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{name: name, help: help, buckets: sorted}
}

// DefaultBuckets returns default histogram buckets for latency metrics
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

// ExponentialBuckets creates count buckets starting at start with factor multiplier
func ExponentialBuckets(start, factor float64, count int) []float64 {
	buckets := make([]float64, count)
	for i := range buckets {
		buckets[i] = start
		start *= factor
	}
	return buckets
}

func (h *Histogram) Name() string     { return h.name }
func (h *Histogram) Help() string     { return h.help }
func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records a value in the histogram
func (h *Histogram) Observe(labels Labels, value float64) {
	hv := h.values.getOrCreate(labels, func() *histogramValue {
		return &histogramValue{buckets: make([]uint64, len(h.buckets))}
	})
	hv.mu.Lock()
	hv.count++
	hv.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			hv.buckets[i]++
			break
		}
	}
	hv.mu.Unlock()
}

// Timer returns a function that records the elapsed time when called
func (h *Histogram) Timer(labels Labels) func() {
	start := time.Now()
	return func() {
		h.Observe(labels, time.Since(start).Seconds())
	}
}

// Count returns the number of observations for labels.
func (h *Histogram) Count(labels Labels) uint64 {
	hv, ok := h.values.lookup(labels)
	if !ok {
		return 0
	}
	hv.mu.Lock()
	defer hv.mu.Unlock()
	return hv.count
}

func (h *Histogram) Write(sb *strings.Builder) {
	writeHeader(sb, h)
	h.values.each(func(labels Labels, hv *histogramValue) {
		hv.mu.Lock()
		count, sum := hv.count, hv.sum
		counts := append([]uint64(nil), hv.buckets...)
		hv.mu.Unlock()

		var cumulative uint64
		for i, bound := range h.buckets {
			cumulative += counts[i]
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, labels.with("le", formatFloat(bound)), cumulative)
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, labels.with("le", "+Inf"), count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, labels, formatFloat(sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, labels, count)
	})
}

// Registry holds all registered metrics
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a metric to the registry
func (r *Registry) Register(metric Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := metric.Name()
	if _, exists := r.metrics[name]; exists {
		return fmt.Errorf("metric %q already registered", name)
	}
	r.metrics[name] = metric
	r.order = append(r.order, name)
	return nil
}

// MustRegister adds a metric and panics on error
func (r *Registry) MustRegister(metrics ...Metric) {
	for _, m := range metrics {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

// Get returns a metric by name
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather collects all metrics in Prometheus text format, in registration
// order.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
