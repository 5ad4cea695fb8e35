package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when a run is started while another is active
	ErrAlreadyRunning = errors.New("a batch run is already in progress")

	// ErrInvalidJob is returned when the input folder or output path is unusable
	ErrInvalidJob = errors.New("invalid batch job")
)

// InferenceError represents a failed call to the inference backend
type InferenceError struct {
	Cause error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Cause)
}

func (e *InferenceError) Unwrap() error {
	return e.Cause
}

// OutputWriteError represents a failure to write the run's CSV.
// Unlike per-file errors it fails the whole run.
type OutputWriteError struct {
	Path  string
	Cause error
}

func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("writing output %s: %v", e.Path, e.Cause)
}

func (e *OutputWriteError) Unwrap() error {
	return e.Cause
}
