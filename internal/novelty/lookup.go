// Package novelty decides whether generated formulas are already known,
// using the reference collection and the Materials Project registry.
//
// Lookups never fail from the caller's point of view: any fault is logged
// and reported as "does not exist", so a broken registry can only make a
// formula look novel.
package novelty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rand/chatbattery/internal/formula"
	"github.com/rand/chatbattery/internal/observability"
)

var (
	// ErrLookupFailed marks a source fault that was collapsed to false.
	ErrLookupFailed = errors.New("novelty lookup failed")

	// ErrBreakerOpen is reported when a source is skipped by its breaker.
	ErrBreakerOpen = errors.New("lookup breaker open")
)

// Lookup reports whether a formula is already known.
type Lookup interface {
	// Name identifies the lookup in transcripts and logs.
	Name() string

	// Exists reports whether f is known. Faults degrade to false.
	Exists(ctx context.Context, f formula.Formula) bool
}

// Source is a lookup that can fail.
type Source interface {
	Name() string
	Check(ctx context.Context, f formula.Formula) (bool, error)
}

// Resilient adapts a Source to Lookup. Faults are logged and counted and
// become false; a Breaker skips sources that keep failing.
type Resilient struct {
	source  Source
	breaker *Breaker
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewResilient wraps source. A nil breaker never trips; nil metrics get a
// private registry.
func NewResilient(source Source, breaker *Breaker, metrics *observability.Metrics) *Resilient {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &Resilient{
		source:  source,
		breaker: breaker,
		metrics: metrics,
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger for the lookup and its breaker.
func (r *Resilient) SetLogger(logger *slog.Logger) {
	r.logger = logger
	if r.breaker != nil {
		r.breaker.SetLogger(logger)
	}
}

// Name implements Lookup.
func (r *Resilient) Name() string {
	return r.source.Name()
}

// Exists implements Lookup.
func (r *Resilient) Exists(ctx context.Context, f formula.Formula) bool {
	ok, err := r.check(ctx, f)
	if err != nil {
		r.metrics.LookupsDegraded.Inc()
		r.logger.Warn("novelty lookup degraded",
			"source", r.source.Name(),
			"formula", f,
			"error", err,
		)
		return false
	}
	return ok
}

func (r *Resilient) check(ctx context.Context, f formula.Formula) (bool, error) {
	if r.breaker != nil && !r.breaker.Allow() {
		r.metrics.BreakerRejections.Inc()
		return false, fmt.Errorf("%w: %w", ErrLookupFailed, ErrBreakerOpen)
	}

	ok, err := r.source.Check(ctx, f)
	if err != nil {
		// Cancelled calls do not count against the source.
		if r.breaker != nil && ctx.Err() == nil {
			r.breaker.RecordFailure()
		}
		return false, fmt.Errorf("%w: %s: %w", ErrLookupFailed, r.source.Name(), err)
	}

	if r.breaker != nil {
		r.breaker.RecordSuccess()
	}
	return ok, nil
}

var _ Lookup = (*Resilient)(nil)
