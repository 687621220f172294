package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Key describes a cached scrape result in a structured way.
type Key struct {
	// Namespace names the kind of data (e.g., "schedule", "pbp", "roster").
	Namespace string

	// Params are the request parameters (e.g., {"season": "20232024"}).
	Params map[string]string
}

// String generates a deterministic cache key string.
// Format: scrape:namespace:param1=val1:param2=val2
//
// Example:
//
//	scrape:schedule:season=20232024:team=TOR
func (k Key) String() string {
	parts := []string{"scrape"}

	ns := strings.Trim(k.Namespace, ":/ ")
	if ns != "" {
		parts = append(parts, ns)
	}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params[name]))
		}
	}

	return strings.Join(parts, ":")
}

// storageName maps a logical key to the name stores address entries by.
// Keys may contain any characters, so they are never used as file names.
func storageName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
