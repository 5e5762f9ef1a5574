package breaker

import (
	"sort"
	"sync"
	"time"
)

// Dependency names used across the service.
const (
	DepStore   = "store"
	DepEmbed   = "embedding"
	DepLexical = "lexical"
	DepVector  = "vector"
)

// Registry holds one breaker per named dependency.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	opts     []Option
}

// NewRegistry creates a registry. The options apply to every breaker it creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		opts:     opts,
	}
}

// Get returns the breaker for the named dependency, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = New(name, r.opts...)
	r.breakers[name] = b
	return b
}

// Status describes one breaker for readiness reporting.
type Status struct {
	Dependency string `json:"dependency"`
	State      string `json:"state"`
	Failures   int    `json:"failures"`
}

// Snapshot returns the state of every known breaker, sorted by dependency name.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.breakers))
	for name, b := range r.breakers {
		out = append(out, Status{
			Dependency: name,
			State:      b.State().String(),
			Failures:   b.Failures(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dependency < out[j].Dependency })
	return out
}

// ForceOpen trips the named breaker open for at least its cool-off window.
// Intended for tests and operator tooling.
func (r *Registry) ForceOpen(name string) {
	b := r.Get(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = b.maxFailures
	b.lastFailure = time.Now()
	b.transition(StateOpen)
}
