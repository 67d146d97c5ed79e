// Package retrieval substitutes a known-good formula from the reference
// collection for a generated formula that failed validation.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/rand/chatbattery/internal/decision"
	"github.com/rand/chatbattery/internal/formula"
	"github.com/rand/chatbattery/internal/oracle"
	"github.com/rand/chatbattery/internal/reference"
)

var (
	// ErrNoRepairFound means no collection entry beat the input formula.
	ErrNoRepairFound = errors.New("no repair found")
)

// Result is a successful repair.
type Result struct {
	Formula  formula.Formula
	Value    float64
	Distance float64

	// Checked counts the decisions made before the match.
	Checked int
}

// Repairer ranks the reference collection by distance to a failed formula
// and returns the nearest entry that passes the decision engine.
type Repairer struct {
	oracle oracle.Oracle
	engine *decision.Engine
	logger *slog.Logger
}

// NewRepairer creates a repairer. Distances come from o; acceptance comes
// from engine.
func NewRepairer(o oracle.Oracle, engine *decision.Engine) *Repairer {
	return &Repairer{
		oracle: o,
		engine: engine,
		logger: slog.Default(),
	}
}

// SetLogger sets the logger for the repairer.
func (r *Repairer) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// Repair returns the nearest collection entry to failed whose capacity beats
// input, together with that capacity. It never returns failed itself.
func (r *Repairer) Repair(ctx context.Context, coll *reference.Collection, input, failed formula.Formula) (formula.Formula, float64, error) {
	res, err := r.Find(ctx, coll, input, failed)
	if err != nil {
		return "", 0, err
	}
	return res.Formula, res.Value, nil
}

// Find is Repair with the ranking details of the match.
func (r *Repairer) Find(ctx context.Context, coll *reference.Collection, input, failed formula.Formula) (Result, error) {
	ranked, err := r.rank(ctx, coll.Formulas(), failed)
	if err != nil {
		return Result{}, err
	}

	inputValue, err := r.oracle.Capacity(ctx, input)
	if err != nil {
		return Result{}, fmt.Errorf("score input %s: %w", input, err)
	}

	checked := 0
	for _, c := range ranked {
		if c.formula == failed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		value, err := r.oracle.Capacity(ctx, c.formula)
		if err != nil {
			return Result{}, fmt.Errorf("score %s: %w", c.formula, err)
		}
		checked++

		if r.engine.Passes(inputValue, value) {
			r.logger.Debug("repair found",
				"failed", failed,
				"repair", c.formula,
				"distance", c.distance,
				"checked", checked,
			)
			return Result{
				Formula:  c.formula,
				Value:    value,
				Distance: c.distance,
				Checked:  checked,
			}, nil
		}
	}

	r.logger.Debug("no repair found", "failed", failed, "checked", checked)
	return Result{}, fmt.Errorf("%s: %w", failed, ErrNoRepairFound)
}

type ranked struct {
	formula  formula.Formula
	distance float64
}

// rank orders fs by ascending distance to target. Ties keep collection order.
func (r *Repairer) rank(ctx context.Context, fs []formula.Formula, target formula.Formula) ([]ranked, error) {
	distances, err := r.distances(ctx, fs, target)
	if err != nil {
		return nil, err
	}

	out := make([]ranked, len(fs))
	for i, f := range fs {
		out[i] = ranked{formula: f, distance: distances[i]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].distance < out[j].distance
	})
	return out, nil
}

func (r *Repairer) distances(ctx context.Context, fs []formula.Formula, target formula.Formula) ([]float64, error) {
	if bd, ok := r.oracle.(oracle.BatchDistancer); ok && len(fs) > 0 {
		ds, err := bd.Distances(ctx, target, fs)
		if err != nil {
			return nil, fmt.Errorf("rank collection: %w", err)
		}
		return ds, nil
	}

	ds := make([]float64, len(fs))
	for i, f := range fs {
		d, err := r.oracle.Distance(ctx, f, target)
		if err != nil {
			return nil, fmt.Errorf("rank collection: %w", err)
		}
		ds[i] = d
	}
	return ds, nil
}
