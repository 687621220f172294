package batch

import (
	"fmt"
)

// ConfigError reports invalid batch parameters. It is returned before any
// item is processed.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid batch config: %s %s", e.Field, e.Reason)
}

// CheckpointError reports a checkpoint file operation that failed.
// Load failures are returned to the caller; write failures are recorded in
// Result.CheckpointErr and the batch continues.
type CheckpointError struct {
	Op   string // "load", "save", "remove"
	Path string
	Err  error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}
