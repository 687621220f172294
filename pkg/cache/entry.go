package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// entryVersion is the on-disk format version. Entries with any other
// version are treated as corrupt.
const entryVersion = 1

// NoExpiration stores an entry that never expires.
const NoExpiration time.Duration = -1

// Entry is the persisted form of a cached value.
type Entry struct {
	Version int `json:"version"`

	// Key is the logical cache key, kept so stores addressed by hash can
	// still list keys.
	Key string `json:"key"`

	// Value is the JSON-encoded cached value.
	Value json.RawMessage `json:"value"`

	// CreatedAt is when the entry was written.
	CreatedAt time.Time `json:"created_at"`

	// TTL is the lifetime in nanoseconds. NoExpiration means forever.
	TTL time.Duration `json:"ttl"`
}

// Valid reports whether the entry may be served at now.
func (e *Entry) Valid(now time.Time) bool {
	if e.TTL < 0 {
		return true
	}
	return now.Before(e.CreatedAt.Add(e.TTL))
}

// Remaining returns the time left before expiry, 0 if already expired.
// Entries without expiration return NoExpiration.
func (e *Entry) Remaining(now time.Time) time.Duration {
	if e.TTL < 0 {
		return NoExpiration
	}
	left := e.CreatedAt.Add(e.TTL).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Age returns how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// decodeEntry parses stored bytes, rejecting malformed or foreign data
// with ErrCorruptEntry.
func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if entry.Version != entryVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptEntry, entry.Version)
	}
	if entry.Key == "" || entry.CreatedAt.IsZero() || len(entry.Value) == 0 {
		return nil, fmt.Errorf("%w: missing fields", ErrCorruptEntry)
	}
	return &entry, nil
}
