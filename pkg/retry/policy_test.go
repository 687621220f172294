package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", p.MaxRetries)
	}
	if p.BaseDelay != 1*time.Second {
		t.Errorf("BaseDelay = %v, want 1s", p.BaseDelay)
	}
	if p.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", p.MaxDelay)
	}
	if p.Jitter != 0 {
		t.Errorf("Jitter = %v, want 0", p.Jitter)
	}
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{MaxRetries: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 1 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{6, 1 * time.Second},
		{200, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_NextDelay_Deterministic(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	err := Transient(errors.New("503"))

	want := []time.Duration{
		50 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}

	for run := 0; run < 3; run++ {
		for i, w := range want {
			got, ok := p.NextDelay(i+1, err)
			if !ok {
				t.Fatalf("NextDelay(%d) refused retry", i+1)
			}
			if got != w {
				t.Errorf("run %d: NextDelay(%d) = %v, want %v", run, i+1, got, w)
			}
		}
	}
}

func TestPolicy_NextDelay_Exhausted(t *testing.T) {
	p := Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second}
	err := Transient(errors.New("timeout"))

	if _, ok := p.NextDelay(2, err); !ok {
		t.Error("attempt 2 should be allowed with MaxRetries=2")
	}
	if _, ok := p.NextDelay(3, err); ok {
		t.Error("attempt 3 should be refused with MaxRetries=2")
	}
}

func TestPolicy_NextDelay_Permanent(t *testing.T) {
	p := DefaultPolicy()

	if _, ok := p.NextDelay(1, Permanent(errors.New("404"))); ok {
		t.Error("permanent errors must not be retried")
	}
	if _, ok := p.NextDelay(1, errors.New("unclassified")); ok {
		t.Error("unclassified errors default to permanent")
	}
}

func TestPolicy_NextDelay_RetryAfterHint(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 2 * time.Second}

	tests := []struct {
		name string
		hint time.Duration
		want time.Duration
	}{
		{"hint used verbatim", 750 * time.Millisecond, 750 * time.Millisecond},
		{"hint capped", 10 * time.Second, 2 * time.Second},
		{"no hint falls back to backoff", 0, 10 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.NextDelay(1, RateLimited(errors.New("429"), tt.hint))
			if !ok {
				t.Fatal("rate limit errors should be retried")
			}
			if got != tt.want {
				t.Errorf("NextDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_NextDelay_Jitter(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Jitter: 0.2}

	for i := 0; i < 50; i++ {
		got, ok := p.NextDelay(1, Transient(errors.New("x")))
		if !ok {
			t.Fatal("expected retry")
		}
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%% of 1s", got)
		}
	}
}

func TestSleep_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly on cancellation")
	}
}

func TestSleep_Elapses(t *testing.T) {
	if err := Sleep(context.Background(), 10*time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v", err)
	}
}
