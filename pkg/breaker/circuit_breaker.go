package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

var (
	// ErrOpenState the breaker is open and fails fast
	ErrOpenState = errors.New("circuit breaker is open")
	// ErrTooManyRequests the half-open probe budget is used up
	ErrTooManyRequests = errors.New("circuit breaker: too many requests")
)

// IsRejection reports whether err came from the breaker rather than the guarded call
func IsRejection(err error) bool {
	return errors.Is(err, ErrOpenState) || errors.Is(err, ErrTooManyRequests)
}

// Config breaker settings. Zero values fall back to the defaults below.
type Config struct {
	// MaxRequests probes allowed while half-open, and successes needed to close
	MaxRequests uint32
	// Interval resets the closed-state counts; zero keeps them until the next trip
	Interval time.Duration
	// Timeout open duration before probing
	Timeout time.Duration
	// FailureRatio trips once reached over at least MinRequests calls
	FailureRatio float64
	MinRequests  uint32
	// ReadyToTrip replaces the ratio rule
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful classifies a result; by default only nil and context cancellation succeed
	IsSuccessful  func(err error) bool
	OnStateChange func(name string, from, to State)
}

// Counts calls observed in the current generation
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// CircuitBreaker guards one dependency, such as publishing to a topic
type CircuitBreaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = ratioRule(cfg.FailureRatio, cfg.MinRequests)
	}
	if cfg.IsSuccessful == nil {
		cfg.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}
	}

	cb := &CircuitBreaker{name: name, cfg: cfg, now: time.Now}
	cb.reset(cb.now())
	return cb
}

func ratioRule(ratio float64, minRequests uint32) func(Counts) bool {
	if ratio <= 0 {
		ratio = 0.5
	}
	if minRequests == 0 {
		minRequests = 10
	}
	return func(c Counts) bool {
		return c.Requests >= minRequests && float64(c.TotalFailures)/float64(c.Requests) >= ratio
	}
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn unless the breaker rejects it. A ctx that is already done is
// returned as is and does not count.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	generation, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			cb.record(generation, false)
			panic(p)
		}
	}()

	err = fn()
	cb.record(generation, cb.cfg.IsSuccessful(err))
	return err
}

// State returns the state, advancing it if a timer elapsed
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance(cb.now())
	return cb.state
}

// Counts returns a copy of the current counts
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset forces the breaker closed
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.reset(cb.now())
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(cb.now())
	switch {
	case cb.state == StateOpen:
		return cb.generation, ErrOpenState
	case cb.state == StateHalfOpen && cb.counts.Requests >= cb.cfg.MaxRequests:
		return cb.generation, ErrTooManyRequests
	}
	cb.counts.Requests++
	return cb.generation, nil
}

// record ignores results of calls admitted in an earlier generation
func (cb *CircuitBreaker) record(generation uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.advance(now)
	if generation != cb.generation {
		return
	}

	if ok {
		cb.counts.success()
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.MaxRequests {
			cb.transition(StateClosed, now)
		}
		return
	}

	cb.counts.failure()
	if cb.state == StateHalfOpen || cb.cfg.ReadyToTrip(cb.counts) {
		cb.transition(StateOpen, now)
	}
}

// advance applies elapsed timers: closed counts expire, open turns half-open
func (cb *CircuitBreaker) advance(now time.Time) {
	if cb.expiry.IsZero() || now.Before(cb.expiry) {
		return
	}
	switch cb.state {
	case StateClosed:
		cb.reset(now)
	case StateOpen:
		cb.transition(StateHalfOpen, now)
	}
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.reset(now)

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}

// reset starts a new generation for the current state
func (cb *CircuitBreaker) reset(now time.Time) {
	cb.generation++
	cb.counts = Counts{}

	switch cb.state {
	case StateClosed:
		cb.expiry = time.Time{}
		if cb.cfg.Interval > 0 {
			cb.expiry = now.Add(cb.cfg.Interval)
		}
	case StateOpen:
		cb.expiry = now.Add(cb.cfg.Timeout)
	default:
		cb.expiry = time.Time{}
	}
}

// Manager keeps one breaker per name, created on first use
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewManager creates a manager whose breakers share cfg
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the named breaker
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(name, m.cfg)
	m.breakers[name] = cb
	return cb
}

// Execute runs fn through the named breaker
func (m *Manager) Execute(ctx context.Context, name string, fn func() error) error {
	return m.Get(name).Execute(ctx, fn)
}
