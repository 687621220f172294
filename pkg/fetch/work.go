package fetch

import (
	"context"
	"encoding/json"

	"github.com/scrapernhl/scrapekit/pkg/batch"
	"github.com/scrapernhl/scrapekit/pkg/cache"
)

// PathItems builds batch items whose ID and payload are the endpoint path.
func PathItems(paths []string) []batch.Item[string] {
	return batch.NewItems(paths, func(p string) string { return p })
}

// WorkFunc returns a batch work function that fetches the path derived from
// each item.
func WorkFunc[T any](c *Client, pathFn func(batch.Item[T]) string) batch.WorkFunc[T, json.RawMessage] {
	return func(ctx context.Context, item batch.Item[T]) (json.RawMessage, error) {
		return c.Get(ctx, pathFn(item))
	}
}

// DecodeWorkFunc is WorkFunc with the body decoded into V.
func DecodeWorkFunc[T, V any](c *Client, pathFn func(batch.Item[T]) string) batch.WorkFunc[T, V] {
	return func(ctx context.Context, item batch.Item[T]) (V, error) {
		return GetJSON[V](ctx, c, pathFn(item))
	}
}

// PathKey returns a cache key function for path items.
func PathKey(namespace string) batch.KeyFunc[string] {
	return func(item batch.Item[string]) string {
		return cache.Key{Namespace: namespace, Params: map[string]string{"path": item.Payload}}.String()
	}
}
