package batch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// minDuration floors the duration used for throughput so sub-millisecond
// batches do not divide by zero.
const minDuration = time.Millisecond

// Result is the outcome of a batch run. Successful and Failed are in
// completion order, which differs between runs.
type Result[T, R any] struct {
	Successful []Outcome[T, R]
	Failed     []Outcome[T, R]

	StartedAt  time.Time
	FinishedAt time.Time

	// Interrupted is set when the context was cancelled before every item
	// had a terminal outcome.
	Interrupted bool

	// Resumed is the number of outcomes carried over from a checkpoint.
	Resumed int

	// CheckpointErr is the last checkpoint write failure, if any. The batch
	// itself still completed; only resumability is affected.
	CheckpointErr error
}

// TotalItems returns the number of items with an outcome.
func (r *Result[T, R]) TotalItems() int {
	return len(r.Successful) + len(r.Failed)
}

// SuccessRate returns the percentage of successful items, 0 for an empty batch.
func (r *Result[T, R]) SuccessRate() float64 {
	total := r.TotalItems()
	if total == 0 {
		return 0
	}
	return float64(len(r.Successful)) / float64(total) * 100
}

// Duration returns the wall-clock run time.
func (r *Result[T, R]) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ItemsPerSecond returns throughput over the run.
func (r *Result[T, R]) ItemsPerSecond() float64 {
	d := r.Duration()
	if d < minDuration {
		d = minDuration
	}
	return float64(r.TotalItems()) / d.Seconds()
}

// Values returns the values of all successful outcomes.
func (r *Result[T, R]) Values() []R {
	values := make([]R, len(r.Successful))
	for i, o := range r.Successful {
		values[i] = o.Value
	}
	return values
}

// FailureReason describes one failed item in a Summary.
type FailureReason struct {
	ItemID   string `json:"item_id"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// Summary is a read-only snapshot of a Result's statistics.
type Summary struct {
	TotalItems      int             `json:"total_items"`
	Successful      int             `json:"successful"`
	Failed          int             `json:"failed"`
	Cached          int             `json:"cached"`
	Failures        []FailureReason `json:"failures,omitempty"`
	FailuresByKind  map[string]int  `json:"failures_by_kind,omitempty"`
	SuccessRate     float64         `json:"success_rate"`
	Duration        time.Duration   `json:"duration"`
	ItemsPerSecond  float64         `json:"items_per_second"`
	Interrupted     bool            `json:"interrupted"`
	Resumed         int             `json:"resumed,omitempty"`
	CheckpointError string          `json:"checkpoint_error,omitempty"`
}

// Summary computes statistics for the result.
func (r *Result[T, R]) Summary() Summary {
	s := Summary{
		TotalItems:     r.TotalItems(),
		Successful:     len(r.Successful),
		Failed:         len(r.Failed),
		SuccessRate:    r.SuccessRate(),
		Duration:       r.Duration(),
		ItemsPerSecond: r.ItemsPerSecond(),
		Interrupted:    r.Interrupted,
		Resumed:        r.Resumed,
	}
	for _, o := range r.Successful {
		if o.Cached {
			s.Cached++
		}
	}
	if len(r.Failed) > 0 {
		s.FailuresByKind = make(map[string]int)
		s.Failures = make([]FailureReason, 0, len(r.Failed))
		for _, o := range r.Failed {
			s.FailuresByKind[string(o.ErrorKind)]++
			s.Failures = append(s.Failures, FailureReason{
				ItemID:   o.Item.ID,
				Kind:     string(o.ErrorKind),
				Message:  o.Message,
				Attempts: o.Attempts,
			})
		}
		sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].ItemID < s.Failures[j].ItemID })
	}
	if r.CheckpointErr != nil {
		s.CheckpointError = r.CheckpointErr.Error()
	}
	return s
}

// String renders the one-line completion message.
func (s Summary) String() string {
	msg := fmt.Sprintf("%d/%d succeeded (%.1f%%) in %.2fs, %.2f items/s",
		s.Successful, s.TotalItems, s.SuccessRate, s.Duration.Seconds(), s.ItemsPerSecond)
	if s.Interrupted {
		msg += ", interrupted"
	}
	if s.CheckpointError != "" {
		msg += ", checkpoint error: " + s.CheckpointError
	}
	return msg
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (s Summary) MarshalZerologObject(e *zerolog.Event) {
	e.Int("total_items", s.TotalItems).
		Int("successful", s.Successful).
		Int("failed", s.Failed).
		Int("cached", s.Cached).
		Float64("success_rate", s.SuccessRate).
		Dur("duration", s.Duration).
		Float64("items_per_second", s.ItemsPerSecond).
		Bool("interrupted", s.Interrupted)
	if s.Resumed > 0 {
		e.Int("resumed", s.Resumed)
	}
	if len(s.FailuresByKind) > 0 {
		kinds := zerolog.Dict()
		for kind, n := range s.FailuresByKind {
			kinds.Int(kind, n)
		}
		e.Dict("failures_by_kind", kinds)
	}
	if s.CheckpointError != "" {
		e.Str("checkpoint_error", s.CheckpointError)
	}
}

// aggregator collects outcomes from concurrent workers.
type aggregator[T, R any] struct {
	mu         sync.Mutex
	successful []Outcome[T, R]
	failed     []Outcome[T, R]

	hookMu sync.Mutex
	hook   func(Outcome[T, R])
}

func newAggregator[T, R any](hook func(Outcome[T, R])) *aggregator[T, R] {
	return &aggregator[T, R]{hook: hook}
}

// seed adds outcomes restored from a checkpoint without firing the hook.
func (a *aggregator[T, R]) seed(outcomes []Outcome[T, R]) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, o := range outcomes {
		a.appendLocked(o)
	}
}

// record stores one terminal outcome. Hook calls are serialized, so a
// progress bar hook needs no locking of its own.
func (a *aggregator[T, R]) record(o Outcome[T, R]) {
	a.mu.Lock()
	a.appendLocked(o)
	a.mu.Unlock()

	if o.OK() {
		itemsTotal.WithLabelValues(string(StatusSuccess)).Inc()
	} else {
		itemsTotal.WithLabelValues(string(StatusFailure)).Inc()
		failuresTotal.WithLabelValues(string(o.ErrorKind)).Inc()
	}

	if a.hook != nil {
		a.hookMu.Lock()
		a.hook(o)
		a.hookMu.Unlock()
	}
}

func (a *aggregator[T, R]) appendLocked(o Outcome[T, R]) {
	if o.OK() {
		a.successful = append(a.successful, o)
	} else {
		a.failed = append(a.failed, o)
	}
}

// snapshot returns copies of the outcome lists.
func (a *aggregator[T, R]) snapshot() (successful, failed []Outcome[T, R]) {
	a.mu.Lock()
	defer a.mu.Unlock()
	successful = append([]Outcome[T, R](nil), a.successful...)
	failed = append([]Outcome[T, R](nil), a.failed...)
	return successful, failed
}

// count returns how many outcomes have been recorded.
func (a *aggregator[T, R]) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.successful) + len(a.failed)
}
