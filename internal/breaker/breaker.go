// Package breaker implements a three-state circuit breaker used to isolate
// the store, embedding, lexical, and vector dependencies from each other.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests are blocked.
	StateOpen
	// StateHalfOpen is when the circuit admits a single probe request.
	StateHalfOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker protects a single named dependency. Consecutive failures trip it
// open; after the cool-off it admits exactly one probe, and the probe's
// outcome decides between reset and another open window.
type Breaker struct {
	name        string
	maxFailures int
	coolOff     time.Duration
	logger      *slog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithMaxFailures sets the number of consecutive failures before opening.
func WithMaxFailures(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// WithCoolOff sets the open-state window before a probe is admitted.
func WithCoolOff(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.coolOff = d
		}
	}
}

// WithLogger sets the logger used for state-transition events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// New creates a breaker for the named dependency.
// Default: 5 failures, 30 second cool-off.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: 5,
		coolOff:     30 * time.Second,
		state:       StateClosed,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, accounting for cool-off expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState returns the state, transitioning Open to HalfOpen after the
// cool-off. Must be called with the lock held.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && time.Since(b.lastFailure) > b.coolOff {
		b.transition(StateHalfOpen)
		b.probing = false
	}
	return b.state
}

// transition updates the state and emits an observability event.
// Must be called with the lock held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.logger.Info("breaker state change",
		slog.String("dependency", b.name),
		slog.String("from", b.state.String()),
		slog.String("to", to.String()),
		slog.Int("failures", b.failures))
	b.state = to
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Allow reports whether a request may proceed. In the half-open state only
// the first caller is admitted as the probe; concurrent callers are rejected
// until the probe's outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful request and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.transition(StateClosed)
}

// RecordFailure records a failed request. A failure while half-open reopens
// immediately; while closed, reaching the threshold opens the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
	b.probing = false

	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.transition(StateOpen)
	}
}

// Execute runs fn through the breaker. Returns a KindBreakerOpen error
// without invoking fn when the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return mnerr.Newf(mnerr.KindBreakerOpen, "%s breaker open", b.name)
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Do runs a function returning a value through the breaker br.
func Do[T any](br *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if !br.Allow() {
		return zero, mnerr.Newf(mnerr.KindBreakerOpen, "%s breaker open", br.name)
	}
	result, err := fn()
	if err != nil {
		br.RecordFailure()
		return result, err
	}
	br.RecordSuccess()
	return result, nil
}
