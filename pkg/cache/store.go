package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key is absent, expired or unreadable.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCorruptEntry indicates stored bytes could not be decoded as an entry.
	ErrCorruptEntry = errors.New("corrupt cache entry")

	// ErrNotFound is returned by a Store when no data exists under a name.
	ErrNotFound = errors.New("cache entry not found")
)

// Store is the persistence layer under Cache. Entries are addressed by
// their storage name (a hex SHA-256 of the logical key), never by the
// logical key itself.
type Store interface {
	// Read returns the raw bytes stored under name, or ErrNotFound.
	Read(ctx context.Context, name string) ([]byte, error)

	// Write replaces the data under name. ttl is an expiry hint for stores
	// that can evict on their own; a negative ttl means no expiry.
	// Readers never observe a partially written entry.
	Write(ctx context.Context, name string, data []byte, ttl time.Duration) error

	// Delete removes name, reporting whether anything was removed.
	Delete(ctx context.Context, name string) (bool, error)

	// List returns the names of all stored entries.
	List(ctx context.Context) ([]string, error)

	// Kind is a short label for metrics and logs ("file", "redis").
	Kind() string

	// Location describes where entries live (directory, redis address).
	Location() string
}

// ConditionalDeleter is implemented by stores that can remove an entry only
// while it still holds the bytes a caller read. Cache uses it when dropping
// expired or corrupt entries so a concurrent Set is never deleted.
type ConditionalDeleter interface {
	DeleteIfUnchanged(ctx context.Context, name string, seen []byte) (bool, error)
}
