// Package circuit provides a two-state circuit breaker used to fall back from
// shared backends (Redis, Postgres) to local state without failing requests.
package circuit

import "sync"

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is healthy and requests flow normally.
	StateClosed State = iota
	// StateOpen means the circuit has tripped and callers should use their fallback.
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Breaker tracks consecutive failures. After FailureThreshold consecutive
// failures the circuit opens; after SuccessThreshold consecutive successes
// while open it closes again.
type Breaker struct {
	mu               sync.Mutex
	state            State
	name             string
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	onChange         func(name string, to State)
}

// Option configures a Breaker instance.
type Option func(*Breaker)

// WithFailureThreshold sets the number of consecutive failures to open the circuit. Default 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the number of consecutive successes to close the circuit. Default 3.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithOnStateChange registers a callback invoked (outside the lock) on transitions.
func WithOnStateChange(fn func(name string, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// New creates a circuit breaker with the given name and options.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 3,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Name returns the circuit breaker's name for logging/metrics.
func (b *Breaker) Name() string {
	return b.name
}

// IsOpen returns true if the circuit is open (tripped).
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen
}

// RecordFailure records a failed primary operation and reports whether the
// caller should use its fallback.
func (b *Breaker) RecordFailure() (useFallback bool) {
	b.mu.Lock()
	b.failureCount++
	b.successCount = 0
	if b.state == StateOpen {
		b.mu.Unlock()
		return true
	}
	if b.failureCount < b.failureThreshold {
		b.mu.Unlock()
		return false
	}
	b.state = StateOpen
	b.mu.Unlock()
	b.notify(StateOpen)
	return true
}

// RecordSuccess records a successful primary operation and reports whether
// the primary result may be used.
func (b *Breaker) RecordSuccess() (usePrimary bool) {
	b.mu.Lock()
	if b.state != StateOpen {
		b.failureCount = 0
		b.mu.Unlock()
		return true
	}
	b.successCount++
	if b.successCount < b.successThreshold {
		b.mu.Unlock()
		return false
	}
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.mu.Unlock()
	b.notify(StateClosed)
	return true
}

func (b *Breaker) notify(to State) {
	if b.onChange != nil {
		b.onChange(b.name, to)
	}
}
