package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/x/exp/slice"
	"golang.org/x/sync/errgroup"

	"github.com/rand/chatbattery/internal/candidate"
	"github.com/rand/chatbattery/internal/decision"
	"github.com/rand/chatbattery/internal/formula"
	"github.com/rand/chatbattery/internal/generate"
	"github.com/rand/chatbattery/internal/novelty"
	"github.com/rand/chatbattery/internal/observability"
	"github.com/rand/chatbattery/internal/reference"
	"github.com/rand/chatbattery/internal/retrieval"
	"github.com/rand/chatbattery/internal/transcript"
)

// DefaultWorkers bounds the repair pool when no option is given.
const DefaultWorkers = 4

// ConfirmFunc lets a person edit the proposed formulas of a round before
// validation. Returning an empty slice keeps the proposal.
type ConfirmFunc func(ctx context.Context, proposed []formula.Formula) ([]formula.Formula, error)

// Deps are the components a Runner drives.
type Deps struct {
	Loop       *generate.Loop
	Engine     *decision.Engine
	Repairer   *retrieval.Repairer
	Collection *reference.Collection
	Lookups    []novelty.Lookup
}

// Runner executes rounds against sessions.
type Runner struct {
	deps    Deps
	workers int
	prompts Prompts
	confirm ConfirmFunc
	metrics *observability.Metrics
	logger  *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWorkers bounds how many repairs run at once. 1 is sequential.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithPrompts sets the prompt templates.
func WithPrompts(p Prompts) RunnerOption {
	return func(r *Runner) {
		r.prompts = p
	}
}

// WithConfirm installs a hook that reviews each round's candidates.
func WithConfirm(fn ConfirmFunc) RunnerOption {
	return func(r *Runner) {
		r.confirm = fn
	}
}

// WithRunnerMetrics records round, decision and repair counts in m.
func WithRunnerMetrics(m *observability.Metrics) RunnerOption {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRunner creates a runner over deps.
func NewRunner(deps Deps, opts ...RunnerOption) *Runner {
	r := &Runner{
		deps:    deps,
		workers: DefaultWorkers,
		prompts: Prompts{Material: DefaultMaterial},
		metrics: observability.NewMetrics(nil),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// RunRound runs one prompt-generate-validate cycle on s.
//
// The session must be in Initial or NeedsRevision. Any failure rolls the
// session back to where it was, including its history, store and
// transcript, so the round can be retried. A candidate the oracle cannot
// score does not fail the round; it is recorded as invalid.
//
// A session must not be shared by concurrent RunRound calls. Its accessors
// are safe to call while a round runs.
func (r *Runner) RunRound(ctx context.Context, s *Session) (Round, error) {
	s.mu.Lock()
	prev := s.state
	if err := s.transition(AwaitingCandidates); err != nil {
		s.mu.Unlock()
		return Round{}, err
	}
	round := Round{Number: len(s.rounds) + 1, Input: s.input}
	if last, ok := slice.Last(s.rounds); ok {
		round.Mode = ModeUpdate
		round.Carried = last.Valid()
		round.Prompt = r.updatePrompt(s.store, last)
	} else {
		round.Mode = ModeInitial
		round.Prompt = r.prompts.Initial(s.input)
	}
	mark := len(s.messages)
	s.messages = append(s.messages, generate.Message{Role: generate.RoleUser, Content: round.Prompt})
	// The loop appends feedback to its own copy.
	messages := slices.Clone(s.messages)
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.messages = s.messages[:mark]
		s.state = prev
	}

	gen, err := r.deps.Loop.Candidates(ctx, messages)
	if err != nil {
		rollback()
		return Round{}, fmt.Errorf("round %d: %w", round.Number, err)
	}

	proposed := dedupe(slices.Concat(gen.Candidates, round.Carried))
	if r.confirm != nil {
		confirmed, err := r.confirm(ctx, proposed)
		if err != nil {
			rollback()
			return Round{}, fmt.Errorf("round %d: confirm: %w", round.Number, err)
		}
		if len(confirmed) > 0 {
			proposed = dedupe(confirmed)
		}
	}

	round.Text = gen.Text
	round.New = gen.Candidates
	round.Candidates = proposed
	round.Attempts = gen.Attempts
	round.Feedback = gen.Feedback

	snap := s.store.Snapshot()
	entries := s.transcript.Len()
	undo := func() {
		s.store.Restore(snap)
		s.transcript.Truncate(entries)
		rollback()
	}

	finalPrompt := messages[mark].Content
	s.mu.Lock()
	s.messages[mark].Content = finalPrompt
	s.messages = append(s.messages, generate.Message{Role: generate.RoleAssistant, Content: gen.Text})
	s.stats.GeneratorCalls += gen.Attempts
	s.stats.Feedback += gen.Feedback
	err = s.transition(Validating)
	s.mu.Unlock()
	if err != nil {
		rollback()
		return Round{}, err
	}

	if len(round.Carried) > 0 {
		s.transcript.Add(transcript.OriginSystem,
			"These are the valid batteries from the previous round:\n"+bulletList(round.Carried))
	}
	s.transcript.Add(transcript.OriginHuman, finalPrompt)
	s.transcript.Add(transcript.OriginLLM, gen.Text)

	outcomes, err := r.validate(ctx, s, round.Candidates)
	if err != nil {
		undo()
		return Round{}, fmt.Errorf("round %d: %w", round.Number, err)
	}
	round.Outcomes = outcomes
	round.Complete = allValid(outcomes)
	round.Transcript = s.transcript.Since(entries)

	next := NeedsRevision
	if round.Complete {
		next = Complete
	}

	s.mu.Lock()
	err = s.transition(next)
	s.rounds = append(s.rounds, round)
	s.stats.Rounds++
	s.mu.Unlock()
	if err != nil {
		return Round{}, err
	}
	r.metrics.RoundsCompleted.Inc()

	r.logger.Info("round finished",
		"round", round.Number,
		"mode", round.Mode,
		"candidates", formula.Strings(round.Candidates),
		"valid", len(round.Valid()),
		"state", next,
	)
	return round, nil
}

// validate runs novelty, decision and repair over the round's candidates.
func (r *Runner) validate(ctx context.Context, s *Session, cands []formula.Formula) ([]Outcome, error) {
	store := s.store
	outcomes := make([]Outcome, len(cands))

	checker := novelty.NewChecker(store, r.metrics, r.deps.Lookups...)
	checker.SetLogger(r.logger)

	var search []string
	for i, f := range cands {
		outcomes[i].Formula = f
		if store.Get(f) == candidate.Valid {
			outcomes[i].Carried = true
			continue
		}
		res := checker.Check(ctx, f)
		outcomes[i].Hits = res.Hits
		search = append(search, searchReport(res))
	}
	if len(search) > 0 {
		s.transcript.Add(transcript.OriginSearch, strings.Join(search, "\n"))
	}

	decisions, scoreErrs, err := r.deps.Engine.DecideEach(ctx, s.input, cands)
	if err != nil {
		return nil, err
	}

	var verdicts []string
	var unscored int
	for i := range decisions {
		d := decisions[i]
		status := store.Get(d.Candidate)

		if err := scoreErrs[i]; err != nil {
			unscored++
			outcomes[i].Unscored = err.Error()
			if status.Novel() && status != candidate.Valid {
				store.MarkValidity(d.Candidate, false)
			}
			r.logger.Warn("candidate could not be scored",
				"formula", d.Candidate,
				"error", err,
			)
			verdicts = append(verdicts, fmt.Sprintf("* Candidate optimized battery %s could not be scored: %v", d.Candidate, err))
			continue
		}

		outcomes[i].Decision = &d
		if status.Novel() && status != candidate.Valid {
			store.MarkValidity(d.Candidate, d.Valid)
			if d.Valid {
				r.metrics.ValidCandidates.Inc()
			}
		}
		verdicts = append(verdicts, verdictLine(d, status.Novel()))
	}
	r.metrics.Decisions.Add(int64(len(decisions) - unscored))
	if len(decisions) > 0 {
		s.transcript.Addf(transcript.OriginDomain, "Input battery %s has capacity %.3f",
			s.input, decisions[0].InputValue)
		s.transcript.Add(transcript.OriginDecision, strings.Join(verdicts, "\n"))
	}

	repairs, err := r.repairAll(ctx, s, outcomes)
	if err != nil {
		return nil, err
	}
	if len(repairs) > 0 {
		s.transcript.Add(transcript.OriginRetrieval, strings.Join(repairs, "\n"))
	}

	for i := range outcomes {
		outcomes[i].Status = store.Get(outcomes[i].Formula)
	}

	s.mu.Lock()
	s.stats.Decisions += len(decisions) - unscored
	s.stats.Unscored += unscored
	s.mu.Unlock()
	return outcomes, nil
}

// repairAll retrieves a repair for every novel invalid candidate on a
// bounded pool. It fills outcomes in place and returns one transcript line
// per attempt, in candidate order. A failed retrieval counts as a miss;
// only ctx ends the pool early.
func (r *Runner) repairAll(ctx context.Context, s *Session, outcomes []Outcome) ([]string, error) {
	store := s.store
	lines := make([]string, len(outcomes))
	found := make([]bool, len(outcomes))

	var g errgroup.Group
	g.SetLimit(r.workers)

	for i := range outcomes {
		f := outcomes[i].Formula
		if store.Get(f) != candidate.Invalid {
			continue
		}
		g.Go(func() error {
			res, err := r.deps.Repairer.Find(ctx, r.deps.Collection, s.input, f)
			switch {
			case errors.Is(err, retrieval.ErrNoRepairFound):
				store.ClearRepair(f)
				lines[i] = fmt.Sprintf("No valid battery was retrieved for %s.", f)
				return nil
			case err != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				store.ClearRepair(f)
				r.logger.Warn("retrieval failed", "formula", f, "error", err)
				lines[i] = fmt.Sprintf("Retrieval for %s failed: %v", f, err)
				return nil
			}

			store.SetRepair(f, res.Formula)
			outcomes[i].Repair = res.Formula
			outcomes[i].RepairValue = res.Value
			found[i] = true
			lines[i] = fmt.Sprintf("Retrieved battery %s with capacity %.3f is the most similar to the invalid candidate %s and serves as a valid optimization.",
				res.Formula, res.Value, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	var hit, miss int
	for i, line := range lines {
		if line == "" {
			continue
		}
		out = append(out, line)
		if found[i] {
			hit++
		} else {
			miss++
		}
	}
	r.metrics.RepairsFound.Add(int64(hit))
	r.metrics.RepairsMissed.Add(int64(miss))

	s.mu.Lock()
	s.stats.RepairsFound += hit
	s.stats.RepairsMissed += miss
	s.mu.Unlock()
	return out, nil
}

// updatePrompt renders the revision prompt from last's rejected candidates.
func (r *Runner) updatePrompt(store *candidate.Store, last Round) string {
	notNovel, invalid, _ := store.Partition(last.Candidates)
	rejected := make([]Rejected, len(invalid))
	for i, f := range invalid {
		rejected[i] = Rejected{Formula: f}
		if repair, ok := store.Repair(f); ok {
			rejected[i].Repair = repair
		}
	}
	return r.prompts.Update(notNovel, rejected)
}

// Result summarizes a finished Run.
type Result struct {
	SessionID string            `json:"session_id" yaml:"session_id"`
	CreatedAt time.Time         `json:"created_at" yaml:"created_at"`
	State     State             `json:"state" yaml:"state"`
	Complete  bool              `json:"complete" yaml:"complete"`
	Valid     []formula.Formula `json:"valid" yaml:"valid"`
	Stats     Stats             `json:"stats" yaml:"stats"`
}

// Run executes rounds until s is Complete or maxRounds rounds have run.
// maxRounds <= 0 means no cap. Hitting the cap leaves s in NeedsRevision.
func (r *Runner) Run(ctx context.Context, s *Session, maxRounds int) (Result, error) {
	for s.State() != Complete {
		if maxRounds > 0 && len(s.Rounds()) >= maxRounds {
			r.logger.Warn("round cap reached before every candidate was valid",
				"session", s.ID(),
				"rounds", maxRounds,
			)
			break
		}
		if _, err := r.RunRound(ctx, s); err != nil {
			return summarize(s), err
		}
	}

	res := summarize(s)
	r.logger.Info("session finished",
		append([]any{"session", res.SessionID, "state", res.State}, res.Stats.LogAttrs()...)...)
	return res, nil
}

func summarize(s *Session) Result {
	state := s.State()
	return Result{
		SessionID: s.ID(),
		CreatedAt: s.CreatedAt(),
		State:     state,
		Complete:  state == Complete,
		Valid:     s.Valid(),
		Stats:     s.Stats(),
	}
}

func searchReport(res novelty.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "********** searching %s **********", res.Formula)
	for _, h := range res.Hits {
		verdict := "does not exist"
		if h.Exists {
			verdict = "exists"
		}
		fmt.Fprintf(&sb, "\n%s: %s", h.Source, verdict)
	}
	return sb.String()
}

func verdictLine(d decision.Decision, novel bool) string {
	noveltyWord := "novel"
	if !novel {
		noveltyWord = "not novel"
	}
	validity := "invalid"
	if d.Valid {
		validity = "valid"
	}
	return fmt.Sprintf("* Candidate optimized battery %s is %s and %s, with capacity %.3f",
		d.Candidate, noveltyWord, validity, d.CandidateValue)
}

func allValid(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if o.Status != candidate.Valid {
			return false
		}
	}
	return true
}

func dedupe(fs []formula.Formula) []formula.Formula {
	return slice.Uniq(fs)
}
