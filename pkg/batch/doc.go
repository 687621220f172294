// Package batch runs large collections of independent scrape operations
// concurrently under a shared rate limit, with retries, caching and
// checkpoint/resume.
//
// A batch is a slice of Items and a WorkFunc. The Runner starts MaxWorkers
// goroutines that pull items from one queue, so no item is processed twice.
// For each item a worker:
//   - serves the value from the cache when Config.Cache holds a fresh entry
//     (neither the limiter nor the work function is touched)
//   - otherwise acquires a permit from the shared limiter and calls the
//     work function
//   - on success stores the value in the cache and records a Success
//   - on failure classifies the error (see package retry) and retries
//     transient and rate-limit failures with exponential backoff, recording
//     a Failure once the error is permanent or retries are exhausted
//
// Example usage:
//
//	cfg := batch.DefaultConfig[int64, Game]()
//	cfg.MaxWorkers = 10
//	cfg.RatePerSecond = 5
//
//	items := batch.NewItems(gameIDs, func(id int64) string { return strconv.FormatInt(id, 10) })
//	result, err := batch.Run(ctx, items, fetchGame, cfg)
//	if err != nil {
//		return err // invalid configuration only
//	}
//	log.Info().EmbedObject(result.Summary()).Msg("Scrape finished")
//
// Item failures never surface as errors: a run where 97 of 100 items
// succeed returns a Result whose Failed list names the other 3.
//
// Long jobs use RunWithCheckpoints, which processes items in chunks and
// atomically saves the completed item IDs and their outcomes after each
// chunk. Restarting with the same checkpoint path skips completed items, so
// a killed run loses at most the chunk in progress.
package batch
