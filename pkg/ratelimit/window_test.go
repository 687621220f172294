package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestWindow(t *testing.T, rate float64, clock *fakeClock) *SlidingWindow {
	t.Helper()
	w, err := NewSlidingWindow(rate, WithClock(clock.Now), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("NewSlidingWindow(%v) error = %v", rate, err)
	}
	return w
}

func TestNewSlidingWindow_InvalidRate(t *testing.T) {
	for _, rate := range []float64{0, -1, math.NaN(), math.Inf(1), MaxRate + 1, 1e19, 1e300} {
		w, err := NewSlidingWindow(rate)
		if !errors.Is(err, ErrInvalidRate) {
			t.Errorf("NewSlidingWindow(%v) error = %v, want ErrInvalidRate", rate, err)
		}
		if w != nil {
			t.Errorf("NewSlidingWindow(%v) returned a limiter", rate)
		}
	}
}

func TestNewSlidingWindow_Sizing(t *testing.T) {
	tests := []struct {
		rate       float64
		wantMax    int
		wantWindow time.Duration
	}{
		{10, 10, time.Second},
		{2.5, 2, time.Second},
		{1, 1, time.Second},
		{0.5, 1, 2 * time.Second},
		{0.25, 1, 4 * time.Second},
		{MaxRate, MaxRate, time.Second},
	}

	for _, tt := range tests {
		w, err := NewSlidingWindow(tt.rate)
		if err != nil {
			t.Fatalf("NewSlidingWindow(%v) error = %v", tt.rate, err)
		}
		state := w.State()
		if state.MaxPerWindow != tt.wantMax {
			t.Errorf("rate %v: MaxPerWindow = %d, want %d", tt.rate, state.MaxPerWindow, tt.wantMax)
		}
		if state.Window != tt.wantWindow {
			t.Errorf("rate %v: Window = %v, want %v", tt.rate, state.Window, tt.wantWindow)
		}
	}
}

func TestSlidingWindow_SaturatesAndRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	w := newTestWindow(t, 3, clock)

	for i := 0; i < 3; i++ {
		if _, ok := w.tryAcquire(); !ok {
			t.Fatalf("grant %d refused inside budget", i+1)
		}
		clock.Advance(100 * time.Millisecond)
	}

	wait, ok := w.tryAcquire()
	if ok {
		t.Fatal("fourth grant inside the window should be refused")
	}
	// oldest grant was 300ms ago, so it leaves the window in 700ms
	if wait != 700*time.Millisecond {
		t.Errorf("wait = %v, want 700ms", wait)
	}

	state := w.State()
	if !state.Saturated() {
		t.Error("State().Saturated() = false, want true")
	}
	if got := state.TimeUntilReset(clock.Now()); got != 700*time.Millisecond {
		t.Errorf("TimeUntilReset() = %v, want 700ms", got)
	}

	clock.Advance(700 * time.Millisecond)
	if _, ok := w.tryAcquire(); !ok {
		t.Error("grant should succeed once the oldest permit expired")
	}
	if got := w.State().Count; got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
}

// TestSlidingWindow_TrailingInvariant checks that no trailing window ever
// holds more than the budget, including across window boundaries.
func TestSlidingWindow_TrailingInvariant(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	w := newTestWindow(t, 5, clock)

	var granted []time.Time
	for step := 0; step < 400; step++ {
		if _, ok := w.tryAcquire(); ok {
			granted = append(granted, clock.Now())
		}
		clock.Advance(37 * time.Millisecond)
	}

	for i := range granted {
		inWindow := 0
		for j := i; j < len(granted) && granted[j].Sub(granted[i]) < time.Second; j++ {
			inWindow++
		}
		if inWindow > 5 {
			t.Fatalf("%d grants within one second starting at grant %d", inWindow, i)
		}
	}
	if len(granted) < 60 {
		t.Errorf("only %d grants over ~14.8s at 5/s, limiter too strict", len(granted))
	}
}

func TestSlidingWindow_ConcurrentThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}

	const rate = 10
	const calls = 25

	w, err := NewSlidingWindow(rate, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls/5; j++ {
				if err := w.Acquire(context.Background()); err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	minimum := time.Duration((float64(calls)/rate - 1) * float64(time.Second))
	if elapsed < minimum {
		t.Errorf("%d calls at %d/s took %v, want at least %v", calls, rate, elapsed, minimum)
	}
}

func TestSlidingWindow_AcquireCancelled(t *testing.T) {
	w, err := NewSlidingWindow(1, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = w.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestWindowState_TimeUntilReset(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		state WindowState
		want  time.Duration
	}{
		{
			name:  "not saturated",
			state: WindowState{WindowStart: now, Count: 1, MaxPerWindow: 2, Window: time.Second},
			want:  0,
		},
		{
			name:  "saturated",
			state: WindowState{WindowStart: now.Add(-400 * time.Millisecond), Count: 2, MaxPerWindow: 2, Window: time.Second},
			want:  600 * time.Millisecond,
		},
		{
			name:  "stale start",
			state: WindowState{WindowStart: now.Add(-5 * time.Second), Count: 2, MaxPerWindow: 2, Window: time.Second},
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.TimeUntilReset(now); got != tt.want {
				t.Errorf("TimeUntilReset() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenBucket(t *testing.T) {
	if _, err := NewTokenBucket(0, 1); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("NewTokenBucket(0) error = %v, want ErrInvalidRate", err)
	}

	b, err := NewTokenBucket(1000, 0)
	if err != nil {
		t.Fatalf("NewTokenBucket() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := b.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
}

func TestUnlimited(t *testing.T) {
	l := Unlimited()
	if err := l.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire(cancelled) error = %v, want context.Canceled", err)
	}
}
