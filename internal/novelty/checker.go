package novelty

import (
	"context"
	"log/slog"

	"github.com/rand/chatbattery/internal/candidate"
	"github.com/rand/chatbattery/internal/formula"
	"github.com/rand/chatbattery/internal/observability"
)

// Hit is the answer of one lookup for one formula.
type Hit struct {
	Source string
	Exists bool
}

// Result is the novelty verdict for one formula.
type Result struct {
	Formula formula.Formula
	Hits    []Hit
	Novel   bool
}

// Checker runs every lookup for a formula and records the verdict in the
// candidate store. All lookups run even after one reports a match, so the
// transcript shows each source's answer.
type Checker struct {
	store   *candidate.Store
	lookups []Lookup
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewChecker creates a checker that writes into store.
func NewChecker(store *candidate.Store, metrics *observability.Metrics, lookups ...Lookup) *Checker {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &Checker{
		store:   store,
		lookups: lookups,
		metrics: metrics,
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger for the checker.
func (c *Checker) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// Lookups returns the configured lookup names in order.
func (c *Checker) Lookups() []string {
	names := make([]string, len(c.lookups))
	for i, l := range c.lookups {
		names[i] = l.Name()
	}
	return names
}

// Check presumes f novel, then downgrades it to NotNovel if any lookup
// finds it.
func (c *Checker) Check(ctx context.Context, f formula.Formula) Result {
	c.store.MarkNovel(f)

	res := Result{Formula: f}
	found := false
	for _, l := range c.lookups {
		exists := l.Exists(ctx, f)
		res.Hits = append(res.Hits, Hit{Source: l.Name(), Exists: exists})
		found = found || exists
	}

	if found {
		c.store.MarkNotNovel(f)
		c.metrics.NotNovel.Inc()
	}
	// NotNovel from an earlier round sticks even if no source matched now.
	res.Novel = c.store.Get(f).Novel()
	c.logger.Debug("novelty checked", "formula", f, "novel", res.Novel)
	return res
}

// CheckAll checks fs in order.
func (c *Checker) CheckAll(ctx context.Context, fs []formula.Formula) []Result {
	out := make([]Result, 0, len(fs))
	for _, f := range fs {
		out = append(out, c.Check(ctx, f))
	}
	return out
}
