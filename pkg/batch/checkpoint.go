package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scrapernhl/scrapekit/internal/fsutil"
	"github.com/scrapernhl/scrapekit/pkg/logging"
)

// checkpointVersion is the checkpoint file format version.
const checkpointVersion = 1

// CheckpointState is the persisted progress of a checkpointed run.
type CheckpointState[T, R any] struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`

	// CompletedItemIDs lists items with a terminal outcome. Items cut short
	// by cancellation are not listed, so a resume retries them.
	CompletedItemIDs []string `json:"completed_item_ids"`

	// PartialResults holds the outcomes of the completed items.
	PartialResults []Outcome[T, R] `json:"partial_results"`

	SavedAt time.Time `json:"saved_at"`
}

// CheckpointManager reads and writes one checkpoint file.
type CheckpointManager[T, R any] struct {
	path   string
	mu     sync.Mutex // serializes file operations
	logger zerolog.Logger
}

// NewCheckpointManager creates a manager for the checkpoint at path.
func NewCheckpointManager[T, R any](path string) *CheckpointManager[T, R] {
	return &CheckpointManager[T, R]{
		path:   path,
		logger: logging.NewLogger("checkpoint"),
	}
}

// Path returns the checkpoint file path.
func (m *CheckpointManager[T, R]) Path() string {
	return m.path
}

// Exists reports whether a checkpoint file is present.
func (m *CheckpointManager[T, R]) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Load reads the checkpoint.
//
// A missing file yields a fresh state with a new run ID (first start).
// An unreadable, malformed or foreign-version file returns a
// *CheckpointError, since resuming from it could double count or lose items.
func (m *CheckpointManager[T, R]) Load() (*CheckpointState[T, R], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &CheckpointState[T, R]{
				Version: checkpointVersion,
				RunID:   uuid.NewString(),
			}, nil
		}
		return nil, &CheckpointError{Op: "load", Path: m.path, Err: err}
	}

	var state CheckpointState[T, R]
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &CheckpointError{Op: "load", Path: m.path, Err: fmt.Errorf("corrupt checkpoint: %w", err)}
	}
	if state.Version != checkpointVersion {
		return nil, &CheckpointError{
			Op:   "load",
			Path: m.path,
			Err:  fmt.Errorf("unsupported checkpoint version %d (expected %d)", state.Version, checkpointVersion),
		}
	}
	if state.RunID == "" {
		state.RunID = uuid.NewString()
	}

	return &state, nil
}

// Save atomically replaces the checkpoint with state, stamping its version
// and save time.
func (m *CheckpointManager[T, R]) Save(state *CheckpointState[T, R]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state.Version = checkpointVersion
	state.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		checkpointWrites.WithLabelValues("error").Inc()
		return &CheckpointError{Op: "save", Path: m.path, Err: fmt.Errorf("marshal checkpoint: %w", err)}
	}

	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			checkpointWrites.WithLabelValues("error").Inc()
			return &CheckpointError{Op: "save", Path: m.path, Err: err}
		}
	}

	if err := fsutil.WriteFileAtomic(m.path, data, 0o644); err != nil {
		checkpointWrites.WithLabelValues("error").Inc()
		return &CheckpointError{Op: "save", Path: m.path, Err: err}
	}

	checkpointWrites.WithLabelValues("ok").Inc()
	return nil
}

// Remove deletes the checkpoint. A missing file is not an error.
func (m *CheckpointManager[T, R]) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &CheckpointError{Op: "remove", Path: m.path, Err: err}
	}
	return nil
}

// CheckpointConfig configures RunWithCheckpoints.
type CheckpointConfig struct {
	// Size is the number of items processed between checkpoint writes.
	Size int

	// Path is the checkpoint file.
	Path string

	// KeepCheckpoint leaves the file in place after a complete run, as an
	// audit record. By default it is deleted.
	KeepCheckpoint bool

	// OnResume is called with the number of items restored from an
	// existing checkpoint before processing starts.
	OnResume func(restored int)
}

// DefaultCheckpointSize matches the chunk size of long season scrapes.
const DefaultCheckpointSize = 100

// RunWithCheckpoints processes items in chunks of cfg.Size with runner,
// saving progress after every chunk so an interrupted run can resume.
//
// Items recorded as completed in an existing checkpoint are skipped and
// their saved outcomes are merged into the result. A checkpoint that cannot
// be loaded is returned as an error before any work starts. A failed
// checkpoint write does not stop the run; it is reported in
// Result.CheckpointErr.
func RunWithCheckpoints[T, R any](ctx context.Context, runner *Runner[T, R], items []Item[T], workFn WorkFunc[T, R], cfg CheckpointConfig) (*Result[T, R], error) {
	if runner == nil {
		return nil, &ConfigError{Field: "runner", Reason: "must not be nil"}
	}
	if cfg.Size <= 0 {
		return nil, &ConfigError{Field: "CheckpointConfig.Size", Reason: fmt.Sprintf("must be positive, got %d", cfg.Size)}
	}
	if cfg.Path == "" {
		return nil, &ConfigError{Field: "CheckpointConfig.Path", Reason: "must not be empty"}
	}
	if err := validateInput(items, workFn); err != nil {
		return nil, err
	}

	mgr := NewCheckpointManager[T, R](cfg.Path)
	state, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logger := runner.logger.With().
		Str("checkpoint", cfg.Path).
		Str("run_id", state.RunID).
		Logger()

	wanted := make(map[string]struct{}, len(items))
	for _, item := range items {
		wanted[item.ID] = struct{}{}
	}

	completed := make(map[string]struct{}, len(state.CompletedItemIDs))
	for _, id := range state.CompletedItemIDs {
		completed[id] = struct{}{}
	}

	var restored []Outcome[T, R]
	for _, o := range state.PartialResults {
		if _, ok := wanted[o.Item.ID]; !ok {
			continue
		}
		if _, ok := completed[o.Item.ID]; !ok {
			continue
		}
		restored = append(restored, o)
	}
	if dropped := len(state.PartialResults) - len(restored); dropped > 0 {
		logger.Warn().Int("dropped", dropped).Msg("Ignoring checkpoint results for items not in this batch")
	}

	done := make(map[string]struct{}, len(restored))
	for _, o := range restored {
		done[o.Item.ID] = struct{}{}
	}
	remaining := make([]Item[T], 0, len(items))
	for _, item := range items {
		if _, ok := done[item.ID]; !ok {
			remaining = append(remaining, item)
		}
	}

	agg := newAggregator(runner.cfg.OnOutcome)
	agg.seed(restored)
	result := &Result[T, R]{StartedAt: time.Now(), Resumed: len(restored)}

	if len(restored) > 0 {
		logger.Info().
			Int("restored", len(restored)).
			Int("remaining", len(remaining)).
			Msg("Resuming from checkpoint")
		if cfg.OnResume != nil {
			cfg.OnResume(len(restored))
		}
	}

	chunks := (len(remaining) + cfg.Size - 1) / cfg.Size
	logger.Info().
		Int("items", len(remaining)).
		Int("chunks", chunks).
		Int("chunk_size", cfg.Size).
		Msg("Starting checkpointed batch")

	save := func() {
		succ, failed := agg.snapshot()
		state.CompletedItemIDs, state.PartialResults = completedView(succ, failed)
		if err := mgr.Save(state); err != nil {
			result.CheckpointErr = err
			logger.Warn().Err(err).Msg("Checkpoint write failed, resume may repeat work")
			return
		}
		logger.Debug().Int("completed", len(state.CompletedItemIDs)).Msg("Checkpoint saved")
	}

	for i := 0; i < chunks; i++ {
		start := i * cfg.Size
		end := start + cfg.Size
		if end > len(remaining) {
			end = len(remaining)
		}

		runner.execute(ctx, remaining[start:end], workFn, agg)
		save()

		if ctx.Err() != nil {
			break
		}

		logger.Info().
			Int("chunk", i+1).
			Int("chunks", chunks).
			Int("recorded", agg.count()).
			Msg("Chunk complete")
	}

	runner.finish(ctx, result, agg, len(items))

	if !result.Interrupted && !cfg.KeepCheckpoint {
		if err := mgr.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove checkpoint")
		}
	}

	return result, nil
}

// completedView derives the checkpoint contents from the recorded outcomes.
func completedView[T, R any](successful, failed []Outcome[T, R]) ([]string, []Outcome[T, R]) {
	ids := make([]string, 0, len(successful)+len(failed))
	outcomes := make([]Outcome[T, R], 0, len(successful)+len(failed))
	for _, list := range [][]Outcome[T, R]{successful, failed} {
		for _, o := range list {
			if !o.terminal() {
				continue
			}
			ids = append(ids, o.Item.ID)
			outcomes = append(outcomes, o)
		}
	}
	return ids, outcomes
}
