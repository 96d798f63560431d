package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errFail = errors.New("fail")

func fail(context.Context) error { return errFail }
func ok(context.Context) error { return nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("peer-1", cfg, zap.NewNop())
	b.now = clock.Now
	return b, clock
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 60*time.Second, cfg.ResetTimeout)
	assert.Equal(t, 1, cfg.HalfOpenMaxCalls)
}

func TestNew_ZeroValuesCorrected(t *testing.T) {
	b := New("k", Config{HalfOpenMaxCalls: -1}, nil)
	assert.Equal(t, DefaultConfig().Threshold, b.config.Threshold)
	assert.Equal(t, DefaultConfig().Timeout, b.config.Timeout)
	assert.Equal(t, DefaultConfig().HalfOpenMaxCalls, b.config.HalfOpenMaxCalls)
	assert.Equal(t, StateClosed, b.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestBreaker_ClosedToOpen(t *testing.T) {
	b, _ := newBreaker(Config{Threshold: 3, ResetTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Call(context.Background(), fail), errFail)
		assert.Equal(t, StateClosed, b.State())
	}
	assert.ErrorIs(t, b.Call(context.Background(), fail), errFail)
	assert.Equal(t, StateOpen, b.State())

	assert.ErrorIs(t, b.Call(context.Background(), ok), ErrCircuitOpen)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clock := newBreaker(Config{Threshold: 1, ResetTimeout: time.Minute})

	_ = b.Call(context.Background(), fail)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, b.Call(context.Background(), ok), ErrCircuitOpen)

	clock.Advance(31 * time.Second)
	assert.NoError(t, b.Call(context.Background(), ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newBreaker(Config{Threshold: 1, ResetTimeout: time.Minute})

	_ = b.Call(context.Background(), fail)
	clock.Advance(time.Minute)
	assert.ErrorIs(t, b.Call(context.Background(), fail), errFail)
	assert.Equal(t, StateOpen, b.State())

	assert.ErrorIs(t, b.Call(context.Background(), ok), ErrCircuitOpen)
}

func TestBreaker_HalfOpenMaxCalls(t *testing.T) {
	b, _ := newBreaker(Config{Threshold: 1, HalfOpenMaxCalls: 1})

	b.mu.Lock()
	b.state = StateHalfOpen
	b.halfOpenCallCount = 1
	b.mu.Unlock()

	assert.ErrorIs(t, b.Call(context.Background(), ok), ErrTooManyCallsInHalfOpen)
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	errRejected := errors.New("rejected")
	b, _ := newBreaker(Config{
		Threshold: 1,
		IsFailure: func(err error) bool { return !errors.Is(err, errRejected) },
	})

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Call(context.Background(), func(context.Context) error { return errRejected }), errRejected)
	}
	assert.Equal(t, StateClosed, b.State())

	_ = b.Call(context.Background(), fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	b, _ := newBreaker(Config{Threshold: 1, Timeout: 10 * time.Millisecond})

	err := b.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newBreaker(Config{Threshold: 3})

	_ = b.Call(context.Background(), fail)
	_ = b.Call(context.Background(), fail)
	_ = b.Call(context.Background(), ok)
	_ = b.Call(context.Background(), fail)
	_ = b.Call(context.Background(), fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ResetAndStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []State
	done := make(chan struct{}, 4)

	b, _ := newBreaker(Config{
		Threshold: 1,
		OnStateChange: func(key string, _, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
			assert.Equal(t, "peer-1", key)
			done <- struct{}{}
		},
	})

	_ = b.Call(context.Background(), fail)
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Call(context.Background(), ok))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("state change callback not invoked")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []State{StateOpen, StateClosed}, transitions)
}

func TestCallTyped(t *testing.T) {
	b, _ := newBreaker(Config{})
	v, err := CallTyped(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Config{Threshold: 1, ResetTimeout: time.Hour}, nil)

	a := r.Get("a")
	assert.Same(t, a, r.Get("a"))
	_ = a.Call(context.Background(), fail)
	assert.NoError(t, r.Get("b").Call(context.Background(), ok))

	states := r.States()
	assert.Equal(t, StateOpen, states["a"])
	assert.Equal(t, StateClosed, states["b"])

	r.Remove("a")
	assert.Equal(t, StateClosed, r.Get("a").State())
}

func TestBreaker_ConcurrentSafety(t *testing.T) {
	b := New("k", Config{Threshold: 100}, nil)

	var wg sync.WaitGroup
	var successCount atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Call(context.Background(), ok) == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), successCount.Load())
	assert.Equal(t, StateClosed, b.State())
}
