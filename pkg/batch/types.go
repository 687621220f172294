package batch

import (
	"context"
	"time"

	"github.com/scrapernhl/scrapekit/pkg/retry"
)

// Item is one unit of work. ID identifies the item in checkpoints and
// results and must be unique within a batch.
type Item[T any] struct {
	ID      string `json:"id"`
	Payload T      `json:"payload"`
}

// NewItems wraps payloads as items, deriving each ID with idFn.
func NewItems[T any](payloads []T, idFn func(T) string) []Item[T] {
	items := make([]Item[T], len(payloads))
	for i, p := range payloads {
		items[i] = Item[T]{ID: idFn(p), Payload: p}
	}
	return items
}

// WorkFunc performs the remote operation for one item. Errors should be
// classified with retry.Transient, retry.Permanent or retry.RateLimited;
// unclassified errors are treated as permanent.
type WorkFunc[T, R any] func(ctx context.Context, item Item[T]) (R, error)

// KeyFunc derives the cache key for an item.
type KeyFunc[T any] func(item Item[T]) string

// Status is the terminal state of an item.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Outcome is the terminal result of one item. It is never modified after
// it is recorded.
type Outcome[T, R any] struct {
	Item   Item[T] `json:"item"`
	Status Status  `json:"status"`

	// Value is the work function result. Zero for failures.
	Value R `json:"value"`

	// ErrorKind and Message describe failures.
	ErrorKind retry.Class `json:"error_kind,omitempty"`
	Message   string      `json:"message,omitempty"`

	// Attempts is the number of work function calls made for the item.
	// Zero when the value came from the cache.
	Attempts int `json:"attempts"`

	Cached     bool      `json:"cached,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Success builds a successful outcome.
func Success[T, R any](item Item[T], value R, attempts int) Outcome[T, R] {
	return Outcome[T, R]{
		Item:       item,
		Status:     StatusSuccess,
		Value:      value,
		Attempts:   attempts,
		FinishedAt: time.Now(),
	}
}

// Failure builds a failed outcome.
func Failure[T, R any](item Item[T], kind retry.Class, message string, attempts int) Outcome[T, R] {
	return Outcome[T, R]{
		Item:       item,
		Status:     StatusFailure,
		ErrorKind:  kind,
		Message:    message,
		Attempts:   attempts,
		FinishedAt: time.Now(),
	}
}

// OK reports whether the outcome is a success.
func (o Outcome[T, R]) OK() bool {
	return o.Status == StatusSuccess
}

// terminal reports whether the item is done for good. Items cut short by
// cancellation are retried on resume.
func (o Outcome[T, R]) terminal() bool {
	return o.Status == StatusSuccess || o.ErrorKind != retry.ClassCancelled
}
