package batch

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/emilemassie/gemini-receipts/internal/receipt"
	"github.com/emilemassie/gemini-receipts/internal/scanning"
)

// State is the lifecycle state of a Runner
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// eventBuffer lets the worker run ahead of a slow consumer for a while
const eventBuffer = 64

// IDGenerator generates unique IDs for runs
type IDGenerator interface {
	Generate() string
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// Runner owns the single background worker. At most one run is active at a time.
type Runner struct {
	writer      receipt.Writer
	idGenerator IDGenerator
	timeSource  TimeSource

	mu    sync.Mutex
	state State
	runID string
	token *Token
	done  chan struct{}
	last  Result
}

// NewRunner creates a new Runner writing results with writer
func NewRunner(writer receipt.Writer) *Runner {
	return NewRunnerWithDeps(writer, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewRunnerWithDeps creates a new Runner with custom dependencies for testing
func NewRunnerWithDeps(writer receipt.Writer, idGen IDGenerator, timeSrc TimeSource) *Runner {
	done := make(chan struct{})
	close(done)
	return &Runner{
		writer:      writer,
		idGenerator: idGen,
		timeSource:  timeSrc,
		state:       StateIdle,
		done:        done,
	}
}

// Start validates job and launches a run on a background goroutine.
// It returns the run ID and the run's event stream, which is closed after the
// final event. The caller keeps ownership of scanner and must drain the stream.
func (r *Runner) Start(ctx context.Context, scanner scanning.Scanner, job Job) (string, <-chan Event, error) {
	if err := job.Validate(); err != nil {
		return "", nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRunning {
		return "", nil, ErrAlreadyRunning
	}

	runID := r.idGenerator.Generate()
	token := &Token{}
	done := make(chan struct{})
	events := make(chan Event, eventBuffer)

	r.state = StateRunning
	r.runID = runID
	r.token = token
	r.done = done

	pipeline := NewPipelineWithDeps(scanner, r.writer, r.timeSource)
	go func() {
		defer close(events)
		res := pipeline.Run(ctx, runID, job, token, events)

		r.mu.Lock()
		r.state = res.State
		r.last = res
		close(done)
		r.mu.Unlock()
	}()

	return runID, events, nil
}

// Stop asks the active run to stop before its next file.
// It reports whether a run was active.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRunning {
		return false
	}
	r.token.Cancel()
	return true
}

// State returns the current state and the ID of the active or last run
func (r *Runner) State() (State, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.runID
}

// Wait blocks until the active run, if any, has finished and returns the last result
func (r *Runner) Wait() Result {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Last returns the result of the most recent finished run
func (r *Runner) Last() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
