// Package session drives the propose-validate-repair conversation for one
// input formula. A Session owns everything that used to be process-global:
// the candidate store, the message history, the round log and the
// transcript. A Runner moves a Session through its states.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rand/chatbattery/internal/candidate"
	"github.com/rand/chatbattery/internal/decision"
	"github.com/rand/chatbattery/internal/formula"
	"github.com/rand/chatbattery/internal/generate"
	"github.com/rand/chatbattery/internal/novelty"
	"github.com/rand/chatbattery/internal/transcript"
)

// Outcome is what happened to one candidate during a round.
type Outcome struct {
	Formula formula.Formula  `json:"formula" yaml:"formula"`
	Status  candidate.Status `json:"status" yaml:"status"`

	// Carried is set for formulas that were already Valid when the round
	// started. They skip the novelty lookups.
	Carried bool `json:"carried,omitempty" yaml:"carried,omitempty"`

	Hits     []novelty.Hit      `json:"hits,omitempty" yaml:"hits,omitempty"`
	Decision *decision.Decision `json:"decision,omitempty" yaml:"decision,omitempty"`

	// Unscored holds the oracle error for a candidate that could not be
	// scored. Such candidates have no Decision and count as invalid.
	Unscored string `json:"unscored,omitempty" yaml:"unscored,omitempty"`

	Repair      formula.Formula `json:"repair,omitempty" yaml:"repair,omitempty"`
	RepairValue float64         `json:"repair_value,omitempty" yaml:"repair_value,omitempty"`
}

// Round records one prompt, its reply and the verdict on every candidate.
type Round struct {
	Number int             `json:"number" yaml:"number"`
	Input  formula.Formula `json:"input" yaml:"input"`
	Mode   Mode            `json:"mode" yaml:"mode"`
	Prompt string          `json:"prompt" yaml:"prompt"`
	Text   string          `json:"text" yaml:"text"`

	// New holds the formulas extracted from Text.
	New []formula.Formula `json:"new" yaml:"new"`

	// Carried holds the previous round's valid formulas.
	Carried []formula.Formula `json:"carried,omitempty" yaml:"carried,omitempty"`

	// Candidates is New followed by Carried, without duplicates.
	Candidates []formula.Formula `json:"candidates" yaml:"candidates"`
	Outcomes   []Outcome         `json:"outcomes" yaml:"outcomes"`

	Attempts int  `json:"attempts" yaml:"attempts"`
	Feedback int  `json:"feedback" yaml:"feedback"`
	Complete bool `json:"complete" yaml:"complete"`

	// Transcript holds the entries this round added.
	Transcript []transcript.Entry `json:"transcript,omitempty" yaml:"transcript,omitempty"`
}

// Valid returns the round's candidates whose outcome is Valid, in order.
func (r Round) Valid() []formula.Formula {
	var out []formula.Formula
	for _, o := range r.Outcomes {
		if o.Status == candidate.Valid {
			out = append(out, o.Formula)
		}
	}
	return out
}

// Stats counts the work done by a session.
type Stats struct {
	Rounds         int `json:"rounds" yaml:"rounds"`
	GeneratorCalls int `json:"generator_calls" yaml:"generator_calls"`
	Feedback       int `json:"feedback" yaml:"feedback"`
	Decisions      int `json:"decisions" yaml:"decisions"`
	RepairsFound   int `json:"repairs_found" yaml:"repairs_found"`
	RepairsMissed  int `json:"repairs_missed" yaml:"repairs_missed"`
	Unscored       int `json:"unscored" yaml:"unscored"`
}

// LogAttrs returns the stats as slog key-value pairs.
func (s Stats) LogAttrs() []any {
	return []any{
		slog.Int("rounds", s.Rounds),
		slog.Int("generator_calls", s.GeneratorCalls),
		slog.Int("feedback", s.Feedback),
		slog.Int("decisions", s.Decisions),
		slog.Int("repairs_found", s.RepairsFound),
		slog.Int("repairs_missed", s.RepairsMissed),
		slog.Int("unscored", s.Unscored),
	}
}

// Options configures a new Session.
type Options struct {
	// SystemPrompt, when non-empty, is the first message of every
	// conversation.
	SystemPrompt string
}

// Session is the state of one optimization conversation.
type Session struct {
	mu sync.Mutex

	id        string
	input     formula.Formula
	opts      Options
	createdAt time.Time

	state      State
	store      *candidate.Store
	messages   []generate.Message
	rounds     []Round
	transcript *transcript.Transcript
	stats      Stats
}

// New creates a session for input in the Initial state.
func New(input formula.Formula, opts Options) *Session {
	s := &Session{
		input:      input,
		opts:       opts,
		store:      candidate.NewStore(),
		transcript: transcript.New(),
	}
	s.reset()
	return s
}

// Reset discards the store, history, rounds, transcript and stats, and
// returns the session to Initial under a fresh ID.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Session) reset() {
	s.id = uuid.NewString()
	s.createdAt = time.Now()
	s.state = Initial
	s.store.Reset()
	s.transcript.Reset()
	s.rounds = nil
	s.stats = Stats{}
	s.messages = nil
	if s.opts.SystemPrompt != "" {
		s.messages = append(s.messages, generate.Message{
			Role:    generate.RoleSystem,
			Content: s.opts.SystemPrompt,
		})
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Input returns the formula being optimized.
func (s *Session) Input() formula.Formula {
	return s.input
}

// CreatedAt returns when the session was created or last reset.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to next, or returns ErrInvalidTransition.
func (s *Session) Transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(next)
}

func (s *Session) transition(next State) error {
	if !CanTransition(s.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, next)
	}
	s.state = next
	return nil
}

// Mode returns the prompt mode of the next round.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rounds) == 0 {
		return ModeInitial
	}
	return ModeUpdate
}

// Store returns the candidate store.
func (s *Session) Store() *candidate.Store {
	return s.store
}

// Transcript returns the session transcript.
func (s *Session) Transcript() *transcript.Transcript {
	return s.transcript
}

// Messages returns a copy of the message history.
func (s *Session) Messages() []generate.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]generate.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Rounds returns a copy of the completed rounds.
func (s *Session) Rounds() []Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Round, len(s.rounds))
	copy(out, s.rounds)
	return out
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Valid returns every formula currently Valid in the store, in the order
// they were first proposed.
func (s *Session) Valid() []formula.Formula {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(formula.Set)
	var out []formula.Formula
	for _, r := range s.rounds {
		for _, f := range r.Candidates {
			if seen.Has(f) || s.store.Get(f) != candidate.Valid {
				continue
			}
			seen.Add(f)
			out = append(out, f)
		}
	}
	return out
}
