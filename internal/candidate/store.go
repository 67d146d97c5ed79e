// Package candidate tracks the novelty and validity of generated formulas
// within a session.
package candidate

import (
	"maps"
	"sync"

	"github.com/rand/chatbattery/internal/formula"
)

// Status is the combined novelty/validity state of a formula.
type Status int

const (
	// Unknown means the formula has not been looked up yet.
	Unknown Status = iota
	// NotNovel means an existence lookup found the formula.
	NotNovel
	// NovelUnvalidated means the lookups found nothing and no decision exists yet.
	NovelUnvalidated
	// Valid means the formula is novel and beat the input formula.
	Valid
	// Invalid means the formula is novel and did not beat the input formula.
	Invalid
)

var statusNames = map[Status]string{
	Unknown:          "unknown",
	NotNovel:         "not novel",
	NovelUnvalidated: "novel",
	Valid:            "valid",
	Invalid:          "invalid",
}

// String returns a human-readable status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Novel reports whether the formula counts as novel. Unknown formulas are
// treated as novel until a lookup says otherwise.
func (s Status) Novel() bool {
	return s != NotNovel
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Store maps formulas to their status and records retrieval repairs.
// It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	statuses map[formula.Formula]Status
	repairs  map[formula.Formula]formula.Formula
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		statuses: make(map[formula.Formula]Status),
		repairs:  make(map[formula.Formula]formula.Formula),
	}
}

// Get returns the status of f, or Unknown if it was never recorded.
func (s *Store) Get(f formula.Formula) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[f]
}

// MarkNovel records that f is about to be checked and is presumed novel.
// Only Unknown formulas move; earlier verdicts are kept.
func (s *Store) MarkNovel(f formula.Formula) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses[f] == Unknown {
		s.statuses[f] = NovelUnvalidated
	}
}

// MarkNotNovel records that an existence lookup found f.
func (s *Store) MarkNotNovel(f formula.Formula) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[f] = NotNovel
}

// MarkValidity records a decision for f. It does nothing once f is NotNovel.
func (s *Store) MarkValidity(f formula.Formula, valid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses[f] == NotNovel {
		return
	}
	if valid {
		s.statuses[f] = Valid
	} else {
		s.statuses[f] = Invalid
	}
}

// Partition splits fs by status, preserving order within each group.
// Formulas that are neither NotNovel, Invalid nor Valid are left out.
func (s *Store) Partition(fs []formula.Formula) (notNovel, invalid, valid []formula.Formula) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range fs {
		switch s.statuses[f] {
		case NotNovel:
			notNovel = append(notNovel, f)
		case Invalid:
			invalid = append(invalid, f)
		case Valid:
			valid = append(valid, f)
		}
	}
	return notNovel, invalid, valid
}

// SetRepair records r as the retrieved substitute for the invalid formula f,
// replacing any earlier record.
func (s *Store) SetRepair(f, r formula.Formula) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repairs[f] = r
}

// ClearRepair records that no substitute was found for f.
func (s *Store) ClearRepair(f formula.Formula) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.repairs, f)
}

// Repair returns the substitute recorded for f, if any.
func (s *Store) Repair(f formula.Formula) (formula.Formula, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.repairs[f]
	return r, ok
}

// Len returns the number of formulas with a recorded status.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.statuses)
}

// Snapshot is a point-in-time copy of a Store.
type Snapshot struct {
	statuses map[formula.Formula]Status
	repairs  map[formula.Formula]formula.Formula
}

// Snapshot copies every status and repair.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		statuses: maps.Clone(s.statuses),
		repairs:  maps.Clone(s.repairs),
	}
}

// Restore replaces the store's contents with snap.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = maps.Clone(snap.statuses)
	s.repairs = maps.Clone(snap.repairs)
	if s.statuses == nil {
		s.statuses = make(map[formula.Formula]Status)
	}
	if s.repairs == nil {
		s.repairs = make(map[formula.Formula]formula.Formula)
	}
}

// Reset discards all statuses and repairs.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = make(map[formula.Formula]Status)
	s.repairs = make(map[formula.Formula]formula.Formula)
}
