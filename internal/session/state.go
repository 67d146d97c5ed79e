package session

import (
	"errors"
	"fmt"
)

// State is the position of a session in the propose-validate cycle.
type State int

const (
	Initial State = iota
	AwaitingCandidates
	Validating
	NeedsRevision
	Complete
)

var stateNames = map[State]string{
	Initial:            "initial",
	AwaitingCandidates: "awaiting_candidates",
	Validating:         "validating",
	NeedsRevision:      "needs_revision",
	Complete:           "complete",
}

// String returns the snake_case state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrInvalidTransition is returned for a move the state machine forbids.
	ErrInvalidTransition = errors.New("invalid state transition")
)

var transitions = map[State][]State{
	Initial:            {AwaitingCandidates},
	AwaitingCandidates: {Validating},
	Validating:         {Complete, NeedsRevision},
	NeedsRevision:      {AwaitingCandidates},
}

// CanTransition reports whether from may move to to. Reset is handled
// separately and is always allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Mode selects the prompt template of a round.
type Mode string

const (
	// ModeInitial asks for optimized formulas from scratch.
	ModeInitial Mode = "initial"

	// ModeUpdate asks to replace the previous round's rejected formulas.
	ModeUpdate Mode = "update_with_generated_list"
)
