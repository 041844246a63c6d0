// Package metrics exposes webhook, dispatch and gateway counters in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector.
var Collector = NewMetricsCollector("wabot")

type kind int

const (
	kindCounter kind = iota
	kindGauge
	kindHistogram
)

func (k kind) String() string {
	switch k {
	case kindCounter:
		return "counter"
	case kindGauge:
		return "gauge"
	default:
		return "histogram"
	}
}

// series is one labelled sample set inside a family.
type series interface {
	write(sb *strings.Builder, name, labels string)
}

// family groups every series sharing a metric name, so HELP and TYPE are
// rendered once per name.
type family struct {
	name   string
	help   string
	kind   kind
	mu     sync.Mutex
	series map[string]series // labels -> series
}

// MetricsCollector is a registry of metric families.
type MetricsCollector struct {
	namespace string
	startTime time.Time

	mu       sync.RWMutex
	families map[string]*family
}

func NewMetricsCollector(namespace string) *MetricsCollector {
	return &MetricsCollector{
		namespace: namespace,
		startTime: time.Now(),
		families:  make(map[string]*family),
	}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// lookup returns the series for name{labels}, creating the family and the
// series on first use. Reusing a name with a different kind panics.
func (c *MetricsCollector) lookup(name, help string, k kind, labels string, create func() series) series {
	c.mu.Lock()
	f, ok := c.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]series)}
		c.families[name] = f
	}
	c.mu.Unlock()

	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s is a %s, not a %s", name, f.kind, k))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[labels]
	if !ok {
		s = create()
		f.series[labels] = s
	}
	return s
}

// Counter is a monotonically increasing counter.
type Counter struct {
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

func (c *Counter) write(sb *strings.Builder, name, labels string) {
	writeSample(sb, name, labels, strconv.FormatInt(c.Value(), 10))
}

// Gauge is a value that can go up and down.
type Gauge struct {
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) write(sb *strings.Builder, name, labels string) {
	writeSample(sb, name, labels, strconv.FormatInt(g.Value(), 10))
}

// Histogram tracks the distribution of observed values over fixed upper
// bounds. Bucket counts are cumulative.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

func (h *Histogram) write(sb *strings.Builder, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, le := range h.bounds {
		writeSample(sb, name+"_bucket", joinLabels(labels, `le="`+formatFloat(le)+`"`), strconv.FormatInt(h.counts[i], 10))
	}
	writeSample(sb, name+"_bucket", joinLabels(labels, `le="+Inf"`), strconv.FormatInt(h.count, 10))
	writeSample(sb, name+"_sum", labels, formatFloat(h.sum))
	writeSample(sb, name+"_count", labels, strconv.FormatInt(h.count, 10))
}

// Counter returns or creates the counter name{labels}.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	return c.lookup(name, help, kindCounter, labels, func() series { return &Counter{} }).(*Counter)
}

// Gauge returns or creates the gauge name{labels}.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	return c.lookup(name, help, kindGauge, labels, func() series { return &Gauge{} }).(*Gauge)
}

// Histogram returns or creates the histogram name{labels}. An explicit +Inf
// bound is dropped; the +Inf bucket is always rendered from the total count.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	return c.lookup(name, help, kindHistogram, labels, func() series {
		bounds := slices.DeleteFunc(slices.Clone(buckets), func(b float64) bool { return math.IsInf(b, 1) })
		sort.Float64s(bounds)
		return &Histogram{bounds: bounds, counts: make([]int64, len(bounds))}
	}).(*Histogram)
}

// Handler renders every family in Prometheus text format, sorted by name.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		io.WriteString(w, c.render())
	}
}

func (c *MetricsCollector) render() string {
	var sb strings.Builder

	uptime := c.namespace + "_uptime_seconds"
	writeHeader(&sb, uptime, "Time since start in seconds", kindGauge)
	writeSample(&sb, uptime, "", strconv.FormatInt(int64(c.Uptime().Seconds()), 10))

	c.mu.RLock()
	families := make([]*family, 0, len(c.families))
	for _, f := range c.families {
		families = append(families, f)
	}
	c.mu.RUnlock()
	sort.Slice(families, func(i, j int) bool { return families[i].name < families[j].name })

	for _, f := range families {
		f.mu.Lock()
		writeHeader(&sb, f.name, f.help, f.kind)
		labels := make([]string, 0, len(f.series))
		for l := range f.series {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			f.series[l].write(&sb, f.name, l)
		}
		f.mu.Unlock()
	}
	return sb.String()
}

func writeHeader(sb *strings.Builder, name, help string, k kind) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, k)
}

func writeSample(sb *strings.Builder, name, labels, value string) {
	sb.WriteString(name)
	if labels != "" {
		sb.WriteString("{" + labels + "}")
	}
	sb.WriteString(" " + value + "\n")
}

func joinLabels(labels, extra string) string {
	if labels == "" {
		return extra
	}
	return labels + "," + extra
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var (
	WebhooksTotal    = Collector.Counter("wabot_webhooks_total", "Webhook calls received", "")
	WebhookErrors    = Collector.Counter("wabot_webhook_errors_total", "Webhook calls answered with an error status", "")
	MessagesReceived = Collector.Counter("wabot_messages_received_total", "Inbound messages received across all batches", "")
	GatewayErrors    = Collector.Counter("wabot_gateway_errors_total", "Failed outbound gateway calls", "")
	InFlight         = Collector.Gauge("wabot_webhooks_in_flight", "Webhook calls currently being processed", "")

	GatewayLatency = Collector.Histogram("wabot_gateway_latency_seconds", "Outbound gateway call latency in seconds", "",
		[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30})
)

// Actions returns the executed-action counter for command.
func Actions(command string) *Counter {
	return Collector.Counter("wabot_actions_total", "Outbound actions executed by command",
		fmt.Sprintf("command=%q", command))
}

// ActionLogEntries returns the gauge of action log rows with the given status.
// It is seeded from the store on startup and bumped on every recorded action.
func ActionLogEntries(status string) *Gauge {
	return Collector.Gauge("wabot_action_log_entries", "Rows in the action log by status",
		fmt.Sprintf("status=%q", status))
}
