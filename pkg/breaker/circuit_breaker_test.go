package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker unavailable")

// fakeClock drives a breaker's timers from tests
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("publish:order.created", cfg)
	cb.now = clock.now
	cb.Reset()
	return cb, clock
}

func fail() error { return errBroker }
func succeed() error { return nil }

func consecutive(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("b", Config{})
	assert.Equal(t, "b", cb.Name())
	assert.Equal(t, uint32(1), cb.cfg.MaxRequests)
	assert.Equal(t, time.Minute, cb.cfg.Timeout)
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_PassesResultThrough(t *testing.T) {
	cb, _ := newTestBreaker(Config{})
	ctx := context.Background()

	assert.NoError(t, cb.Execute(ctx, succeed))
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBroker)

	counts := cb.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
}

func TestExecute_DoneContextIsNotCounted(t *testing.T) {
	cb, _ := newTestBreaker(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, uint32(0), cb.Counts().Requests)
}

func TestExecute_CancellationIsNotAFailure(t *testing.T) {
	cb, _ := newTestBreaker(Config{ReadyToTrip: consecutive(1)})

	err := cb.Execute(context.Background(), func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_OpensAndFailsFast(t *testing.T) {
	var transitions []string
	cb, _ := newTestBreaker(Config{
		Timeout:     30 * time.Second,
		ReadyToTrip: consecutive(3),
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBroker)
	}
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpenState)
	assert.True(t, IsRejection(err))
	assert.False(t, called)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestExecute_RatioRule(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureRatio: 0.5, MinRequests: 4})
	ctx := context.Background()

	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)
	assert.Equal(t, StateClosed, cb.State(), "below MinRequests")

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpen_ClosesAfterProbes(t *testing.T) {
	cb, clock := newTestBreaker(Config{
		MaxRequests: 2,
		Timeout:     10 * time.Second,
		ReadyToTrip: consecutive(1),
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	clock.advance(11 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpen_FailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(Config{Timeout: time.Second, ReadyToTrip: consecutive(1)})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpen_LimitsProbes(t *testing.T) {
	cb, clock := newTestBreaker(Config{MaxRequests: 1, Timeout: time.Second, ReadyToTrip: consecutive(1)})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.advance(2 * time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func() error { <-release; return nil })
	}()

	assert.Eventually(t, func() bool { return cb.Counts().Requests == 1 }, time.Second, time.Millisecond)
	err := cb.Execute(ctx, succeed)
	assert.ErrorIs(t, err, ErrTooManyRequests)
	assert.True(t, IsRejection(err))

	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestClosed_IntervalClearsCounts(t *testing.T) {
	cb, clock := newTestBreaker(Config{Interval: time.Minute, ReadyToTrip: consecutive(2)})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.advance(2 * time.Minute)

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().ConsecutiveFailures)
}

func TestExecute_StaleResultIgnored(t *testing.T) {
	cb, _ := newTestBreaker(Config{ReadyToTrip: consecutive(1)})
	ctx := context.Background()

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func() error { <-release; return nil })
	}()
	assert.Eventually(t, func() bool { return cb.Counts().Requests == 1 }, time.Second, time.Millisecond)

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	// the slow success belongs to the closed generation
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateOpen, cb.State())
}

func TestExecute_PanicCountsAsFailure(t *testing.T) {
	cb, _ := newTestBreaker(Config{ReadyToTrip: consecutive(1)})

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestReset(t *testing.T) {
	cb, _ := newTestBreaker(Config{ReadyToTrip: consecutive(1)})
	_ = cb.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{}, cb.Counts())
}

func TestManager(t *testing.T) {
	m := NewManager(Config{ReadyToTrip: consecutive(1)})
	ctx := context.Background()

	assert.Same(t, m.Get("publish:a"), m.Get("publish:a"))

	assert.ErrorIs(t, m.Execute(ctx, "publish:a", fail), errBroker)
	assert.ErrorIs(t, m.Execute(ctx, "publish:a", succeed), ErrOpenState)

	// breakers are independent per name
	assert.NoError(t, m.Execute(ctx, "publish:b", succeed))
}

func TestManager_ConcurrentGet(t *testing.T) {
	m := NewManager(Config{})

	var wg sync.WaitGroup
	got := make([]*CircuitBreaker, 20)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = m.Get("publish:stock-events")
		}(i)
	}
	wg.Wait()

	for _, cb := range got {
		assert.Same(t, got[0], cb)
	}
}
