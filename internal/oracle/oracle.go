// Package oracle defines the domain scoring functions used to judge
// candidate formulas, and hosts the Python domain agent that provides them.
package oracle

import (
	"context"
	"math"

	"github.com/rand/chatbattery/internal/formula"
)

// Oracle scores formulas. Both functions are expected to be deterministic.
type Oracle interface {
	// Capacity returns the theoretical capacity of f.
	Capacity(ctx context.Context, f formula.Formula) (float64, error)

	// Distance returns how far apart a and b are. Smaller is closer.
	Distance(ctx context.Context, a, b formula.Formula) (float64, error)
}

// BatchDistancer is implemented by oracles that can score many distances in
// one call. Distances returns distance(fs[i], target) for every i.
type BatchDistancer interface {
	Distances(ctx context.Context, target formula.Formula, fs []formula.Formula) ([]float64, error)
}

// RangeMatcher is implemented by oracles that can tell whether a formula
// falls inside the composition range of any reference formula.
type RangeMatcher interface {
	RangeMatch(ctx context.Context, f formula.Formula, refs []formula.Formula) (bool, error)
}

// Funcs adapts plain functions to the Oracle interface.
type Funcs struct {
	CapacityFunc func(formula.Formula) float64
	DistanceFunc func(a, b formula.Formula) float64
}

// Capacity implements Oracle.
func (f Funcs) Capacity(_ context.Context, x formula.Formula) (float64, error) {
	return f.CapacityFunc(x), nil
}

// Distance implements Oracle.
func (f Funcs) Distance(_ context.Context, a, b formula.Formula) (float64, error) {
	return f.DistanceFunc(a, b), nil
}

// Table is an oracle backed by fixed capacity and distance tables, mainly
// useful in tests and dry runs. Unknown formulas score zero capacity and
// unknown pairs are infinitely far apart unless Fallback is set.
type Table struct {
	Capacities map[formula.Formula]float64

	// Distances holds distance to a target, keyed by target then formula.
	Distances map[formula.Formula]map[formula.Formula]float64

	// Fallback scores pairs missing from Distances.
	Fallback func(a, b formula.Formula) float64
}

// Capacity implements Oracle.
func (t *Table) Capacity(_ context.Context, f formula.Formula) (float64, error) {
	return t.Capacities[f], nil
}

// Distance implements Oracle. a is looked up against target b.
func (t *Table) Distance(_ context.Context, a, b formula.Formula) (float64, error) {
	if row, ok := t.Distances[b]; ok {
		if d, ok := row[a]; ok {
			return d, nil
		}
	}
	if t.Fallback != nil {
		return t.Fallback(a, b), nil
	}
	return math.Inf(1), nil
}
