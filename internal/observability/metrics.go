// Package observability provides in-process counters for session components.
package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metric names.
const (
	// Generation metrics
	MetricGeneratorCalls    = "generator_calls_total"
	MetricGeneratorFailures = "generator_failures_total"
	MetricFeedbackAppended  = "generator_feedback_total"
	MetricGeneratorLatency  = "generator_latency_seconds"

	// Validation metrics
	MetricDecisions        = "decisions_total"
	MetricValidCandidates  = "candidates_valid_total"
	MetricLookupsDegraded  = "novelty_lookups_degraded_total"
	MetricNotNovel         = "candidates_not_novel_total"
	MetricRepairsFound     = "repairs_found_total"
	MetricRepairsMissed    = "repairs_missed_total"
	MetricRoundsCompleted  = "rounds_total"
	MetricBreakerRejection = "registry_breaker_rejections_total"
)

// Counter is a monotonically increasing metric.
type Counter struct {
	value int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v int64) {
	atomic.AddInt64(&c.value, v)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Histogram tracks the distribution of values.
type Histogram struct {
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
	mu      sync.Mutex
}

// DefaultBuckets are latency buckets in seconds, sized for LLM calls.
var DefaultBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewHistogram creates a histogram with the given buckets.
func NewHistogram(buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return &Histogram{
		buckets: buckets,
		counts:  make([]int64, len(buckets)+1), // +1 for infinity bucket
	}
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.buckets)]++
}

// ObserveDuration records a duration since start.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Snapshot returns a snapshot of the histogram.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make([]int64, len(h.counts))
	copy(counts, h.counts)

	return HistogramSnapshot{
		Buckets: h.buckets,
		Counts:  counts,
		Sum:     h.sum,
		Count:   h.count,
	}
}

// HistogramSnapshot is a point-in-time snapshot of a histogram.
type HistogramSnapshot struct {
	Buckets []float64
	Counts  []int64
	Sum     float64
	Count   int64
}

// Mean returns the mean value.
func (s HistogramSnapshot) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Registry holds named metrics.
type Registry struct {
	counters   map[string]*Counter
	histograms map[string]*Histogram
	mu         sync.RWMutex
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
	}
}

// Counter returns or creates the counter with the given name.
func (r *Registry) Counter(name string) *Counter {
	r.mu.RLock()
	if c, ok := r.counters[name]; ok {
		r.mu.RUnlock()
		return c
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c
	}

	c := &Counter{}
	r.counters[name] = c
	return c
}

// Histogram returns or creates the histogram with the given name.
func (r *Registry) Histogram(name string, buckets []float64) *Histogram {
	r.mu.RLock()
	if h, ok := r.histograms[name]; ok {
		r.mu.RUnlock()
		return h
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histograms[name]; ok {
		return h
	}

	h := NewHistogram(buckets)
	r.histograms[name] = h
	return h
}

// Snapshot returns a snapshot of all metrics.
func (r *Registry) Snapshot() MetricsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := MetricsSnapshot{
		Counters:   make(map[string]int64, len(r.counters)),
		Histograms: make(map[string]HistogramSnapshot, len(r.histograms)),
	}
	for k, c := range r.counters {
		snap.Counters[k] = c.Value()
	}
	for k, h := range r.histograms {
		snap.Histograms[k] = h.Snapshot()
	}
	return snap
}

// MetricsSnapshot is a point-in-time snapshot of all metrics.
type MetricsSnapshot struct {
	Counters   map[string]int64
	Histograms map[string]HistogramSnapshot
}

// LogAttrs flattens the counters into sorted key/value pairs for slog.
func (s MetricsSnapshot) LogAttrs() []any {
	names := make([]string, 0, len(s.Counters))
	for name := range s.Counters {
		names = append(names, name)
	}
	sort.Strings(names)

	attrs := make([]any, 0, 2*len(names))
	for _, name := range names {
		attrs = append(attrs, name, s.Counters[name])
	}
	return attrs
}

// Metrics provides pre-allocated counters for the hot paths of a session.
type Metrics struct {
	registry *Registry

	GeneratorCalls    *Counter
	GeneratorFailures *Counter
	FeedbackAppended  *Counter
	GeneratorLatency  *Histogram
	Decisions         *Counter
	ValidCandidates   *Counter
	NotNovel          *Counter
	LookupsDegraded   *Counter
	RepairsFound      *Counter
	RepairsMissed     *Counter
	RoundsCompleted   *Counter
	BreakerRejections *Counter
}

// NewMetrics creates session metrics in the given registry.
// A nil registry gets a fresh one.
func NewMetrics(registry *Registry) *Metrics {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Metrics{
		registry:          registry,
		GeneratorCalls:    registry.Counter(MetricGeneratorCalls),
		GeneratorFailures: registry.Counter(MetricGeneratorFailures),
		FeedbackAppended:  registry.Counter(MetricFeedbackAppended),
		GeneratorLatency:  registry.Histogram(MetricGeneratorLatency, DefaultBuckets),
		Decisions:         registry.Counter(MetricDecisions),
		ValidCandidates:   registry.Counter(MetricValidCandidates),
		NotNovel:          registry.Counter(MetricNotNovel),
		LookupsDegraded:   registry.Counter(MetricLookupsDegraded),
		RepairsFound:      registry.Counter(MetricRepairsFound),
		RepairsMissed:     registry.Counter(MetricRepairsMissed),
		RoundsCompleted:   registry.Counter(MetricRoundsCompleted),
		BreakerRejections: registry.Counter(MetricBreakerRejection),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *Registry {
	return m.registry
}

// Snapshot returns a snapshot of the underlying registry.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return m.registry.Snapshot()
}
