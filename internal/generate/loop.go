package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/rand/chatbattery/internal/formula"
	"github.com/rand/chatbattery/internal/observability"
)

var (
	// ErrTransientGeneration wraps any failure returned by the generator.
	ErrTransientGeneration = errors.New("transient generation failure")

	// ErrNoProgress means a reply produced no candidate that was not
	// already rejected earlier in the same call.
	ErrNoProgress = errors.New("generation produced no new candidates")
)

// RetryPolicy controls how long Loop keeps asking the generator.
type RetryPolicy struct {
	// MaxAttempts caps the number of generator calls. Zero retries forever.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// Backoff is the fixed wait between attempts.
	Backoff time.Duration `yaml:"backoff" json:"backoff"`
}

// DefaultRetryPolicy retries forever with a one second wait.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 0,
		Backoff:     time.Second,
	}
}

// Unbounded reports whether the policy never gives up on its own.
func (p RetryPolicy) Unbounded() bool {
	return p.MaxAttempts <= 0
}

func (p RetryPolicy) backoff() retry.Backoff {
	d := p.Backoff
	if d <= 0 {
		d = time.Nanosecond
	}
	b := retry.NewConstant(d)
	if !p.Unbounded() {
		b = retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
	}
	return b
}

// Generation is the outcome of a successful Loop.Candidates call.
type Generation struct {
	// Text is the raw reply that yielded the candidates.
	Text string

	// Candidates are the new formulas, in order of appearance. Never empty.
	Candidates []formula.Formula

	// Attempts is the number of generator calls made.
	Attempts int

	// Feedback is the number of corrective instructions appended to the
	// last message.
	Feedback int
}

// Loop asks a Generator for candidates until a reply yields at least one.
type Loop struct {
	gen         Generator
	extractor   *formula.Extractor
	policy      RetryPolicy
	temperature float64
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPolicy sets the retry policy.
func WithPolicy(p RetryPolicy) LoopOption {
	return func(l *Loop) {
		l.policy = p
	}
}

// WithTemperature sets the sampling temperature passed to the generator.
func WithTemperature(t float64) LoopOption {
	return func(l *Loop) {
		l.temperature = t
	}
}

// WithExtractor replaces the default formula extractor.
func WithExtractor(e *formula.Extractor) LoopOption {
	return func(l *Loop) {
		l.extractor = e
	}
}

// WithMetrics records attempts and feedback in m.
func WithMetrics(m *observability.Metrics) LoopOption {
	return func(l *Loop) {
		l.metrics = m
	}
}

// NewLoop creates a loop around gen.
func NewLoop(gen Generator, opts ...LoopOption) *Loop {
	l := &Loop{
		gen:       gen,
		extractor: formula.NewExtractor(),
		policy:    DefaultRetryPolicy(),
		metrics:   observability.NewMetrics(nil),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLogger sets the logger for the loop.
func (l *Loop) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

// Candidates calls the generator with messages until a reply contains at
// least one formula not rejected earlier in this call.
//
// Generator errors and empty replies are retried under the loop's policy.
// After an empty reply, a "do not generate" instruction naming the rejected
// formulas is appended to the last message in place, so the caller's history
// carries the feedback. Cancelling ctx stops the loop with ctx.Err().
func (l *Loop) Candidates(ctx context.Context, messages []Message) (Generation, error) {
	seen := make(formula.Set)
	var attempts, feedback int

	gen, err := retry.DoValue[Generation](ctx, l.policy.backoff(), func(ctx context.Context) (Generation, error) {
		attempts++
		l.metrics.GeneratorCalls.Inc()

		start := time.Now()
		text, err := l.gen.Generate(ctx, messages, l.temperature)
		l.metrics.GeneratorLatency.ObserveDuration(start)
		if err != nil {
			if ctx.Err() != nil {
				return Generation{}, ctx.Err()
			}
			l.metrics.GeneratorFailures.Inc()
			l.logger.Warn("generator call failed, retrying",
				"attempt", attempts,
				"error", err,
			)
			return Generation{}, retry.RetryableError(fmt.Errorf("%w: %w", ErrTransientGeneration, err))
		}

		found := l.extractor.Extract(text, seen)
		if len(found) > 0 {
			return Generation{Text: text, Candidates: found}, nil
		}

		rejected := l.extractor.Unfiltered(text)
		seen.Add(rejected...)
		AppendToLast(messages, Feedback(rejected))
		feedback++
		l.metrics.FeedbackAppended.Inc()

		l.logger.Info("reply had no new candidates, retrying with feedback",
			"attempt", attempts,
			"rejected", formula.Strings(rejected),
		)
		return Generation{}, retry.RetryableError(ErrNoProgress)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Generation{}, ctx.Err()
		}
		return Generation{}, fmt.Errorf("generate candidates after %d attempts: %w", attempts, err)
	}

	gen.Attempts = attempts
	gen.Feedback = feedback

	l.logger.Debug("candidates generated",
		"attempts", attempts,
		"feedback", feedback,
		"candidates", formula.Strings(gen.Candidates),
	)
	return gen, nil
}

// Feedback renders the corrective instruction appended after an empty reply.
func Feedback(rejected []formula.Formula) string {
	return fmt.Sprintf("Please do not generate batteries in this list [%s].",
		strings.Join(formula.Strings(rejected), ", "))
}
