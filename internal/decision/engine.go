// Package decision classifies candidate formulas as improvements over an
// input formula using the domain capacity oracle.
package decision

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rand/chatbattery/internal/formula"
	"github.com/rand/chatbattery/internal/oracle"
)

// Decision is the verdict for one candidate.
type Decision struct {
	Input          formula.Formula
	Candidate      formula.Formula
	InputValue     float64
	CandidateValue float64

	// Valid holds when CandidateValue > InputValue * threshold.
	Valid bool
}

// Config configures an Engine.
type Config struct {
	// Threshold multiplies the input value before the strict comparison.
	// 1 means "any improvement"; values above 1 demand a margin.
	Threshold float64

	// Workers bounds concurrent oracle calls in DecideMany. 1 is sequential.
	Workers int
}

// DefaultConfig accepts any strict improvement and evaluates four
// candidates at a time.
func DefaultConfig() Config {
	return Config{
		Threshold: 1.0,
		Workers:   4,
	}
}

// Engine decides candidates against an input formula. It holds no state
// between calls.
type Engine struct {
	oracle oracle.Oracle
	config Config
}

// NewEngine creates an engine over o. A non-positive threshold or worker
// count falls back to the default.
func NewEngine(o oracle.Oracle, config Config) *Engine {
	def := DefaultConfig()
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	return &Engine{oracle: o, config: config}
}

// Threshold returns the configured multiplier.
func (e *Engine) Threshold() float64 {
	return e.config.Threshold
}

// Passes applies the decision rule to precomputed values.
func (e *Engine) Passes(inputValue, candidateValue float64) bool {
	return candidateValue > inputValue*e.config.Threshold
}

// Decide scores input and candidate and reports whether the candidate wins.
func (e *Engine) Decide(ctx context.Context, input, candidate formula.Formula) (Decision, error) {
	inputValue, err := e.oracle.Capacity(ctx, input)
	if err != nil {
		return Decision{}, fmt.Errorf("score input %s: %w", input, err)
	}
	return e.decideAgainst(ctx, input, inputValue, candidate)
}

// DecideMany decides every candidate against input. Results keep the order
// of candidates. The input is scored once. The first candidate, in order,
// that the oracle cannot score fails the call.
func (e *Engine) DecideMany(ctx context.Context, input formula.Formula, candidates []formula.Formula) ([]Decision, error) {
	decisions, errs, err := e.DecideEach(ctx, input, candidates)
	if err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return decisions, nil
}

// DecideEach is DecideMany without the fail-fast: errs[i] is set when
// candidate i could not be scored, and decisions[i] is then invalid with a
// zero CandidateValue. The returned error covers scoring the input and ctx.
// One failed candidate never cancels the others.
func (e *Engine) DecideEach(ctx context.Context, input formula.Formula, candidates []formula.Formula) (decisions []Decision, errs []error, err error) {
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	inputValue, err := e.oracle.Capacity(ctx, input)
	if err != nil {
		return nil, nil, fmt.Errorf("score input %s: %w", input, err)
	}

	decisions = make([]Decision, len(candidates))
	errs = make([]error, len(candidates))

	var g errgroup.Group
	g.SetLimit(e.config.Workers)
	for i, cand := range candidates {
		g.Go(func() error {
			d, err := e.decideAgainst(ctx, input, inputValue, cand)
			if err != nil {
				d = Decision{Input: input, Candidate: cand, InputValue: inputValue}
				errs[i] = err
			}
			decisions[i] = d
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return decisions, errs, nil
}

func (e *Engine) decideAgainst(ctx context.Context, input formula.Formula, inputValue float64, candidate formula.Formula) (Decision, error) {
	value, err := e.oracle.Capacity(ctx, candidate)
	if err != nil {
		return Decision{}, fmt.Errorf("score candidate %s: %w", candidate, err)
	}
	return Decision{
		Input:          input,
		Candidate:      candidate,
		InputValue:     inputValue,
		CandidateValue: value,
		Valid:          e.Passes(inputValue, value),
	}, nil
}
