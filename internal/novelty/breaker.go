package novelty

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the state of a Breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of half-open successes needed to close.
	SuccessThreshold int

	// OpenDuration is how long to stay open before probing again.
	OpenDuration time.Duration
}

// DefaultBreakerConfig opens after three straight failures and retries the source
// after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenDuration:     time.Minute,
	}
}

// Breaker skips a lookup source after repeated failures until OpenDuration
// has passed, then lets one trial call through.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	successes   int
	lastFailure time.Time
	state       BreakerState
	config      BreakerConfig
	now         func() time.Time
	logger      *slog.Logger
}

// NewBreaker creates a closed breaker. Zero config fields take defaults.
func NewBreaker(config BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = def.OpenDuration
	}
	return &Breaker{
		state:  BreakerClosed,
		config: config,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// SetLogger sets the logger for the breaker.
func (b *Breaker) SetLogger(logger *slog.Logger) {
	b.logger = logger
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.config.OpenDuration {
			return false
		}
		b.state = BreakerHalfOpen
		b.successes = 0
		b.logger.Info("lookup breaker half-open")
		return true
	default:
		return true
	}
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = BreakerClosed
			b.logger.Info("lookup breaker closed")
		}
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.config.FailureThreshold {
			b.state = BreakerOpen
			b.logger.Warn("lookup breaker opened",
				"failures", b.failures,
				"threshold", b.config.FailureThreshold,
			)
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.logger.Warn("lookup breaker re-opened after half-open failure")
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
}
