package novelty

import (
	"context"

	"github.com/rand/chatbattery/internal/formula"
	"github.com/rand/chatbattery/internal/observability"
	"github.com/rand/chatbattery/internal/oracle"
	"github.com/rand/chatbattery/internal/reference"
)

// ReferenceSource checks formulas against the reference collection. With a
// RangeMatcher it asks whether the formula falls inside any reference
// composition range; without one it uses exact membership.
type ReferenceSource struct {
	name    string
	coll    *reference.Collection
	matcher oracle.RangeMatcher
}

// NewReferenceSource creates a source over coll. matcher may be nil.
func NewReferenceSource(name string, coll *reference.Collection, matcher oracle.RangeMatcher) *ReferenceSource {
	if name == "" {
		name = "reference"
	}
	return &ReferenceSource{name: name, coll: coll, matcher: matcher}
}

// Name implements Source.
func (s *ReferenceSource) Name() string {
	return s.name
}

// Check implements Source.
func (s *ReferenceSource) Check(ctx context.Context, f formula.Formula) (bool, error) {
	if s.coll.Contains(f) {
		return true, nil
	}
	if s.matcher == nil || s.coll.Len() == 0 {
		return false, nil
	}
	return s.matcher.RangeMatch(ctx, f, s.coll.Formulas())
}

// NewReferenceLookup is the fault-tolerant Lookup over the collection.
func NewReferenceLookup(coll *reference.Collection, matcher oracle.RangeMatcher, metrics *observability.Metrics) *Resilient {
	return NewResilient(NewReferenceSource("reference", coll, matcher), nil, metrics)
}
