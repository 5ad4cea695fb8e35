package batch

import "time"

// Severity classifies a progress event for display
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// Kind identifies what happened
type Kind string

const (
	KindStarted       Kind = "started"
	KindProcessing    Kind = "processing"
	KindModelResponse Kind = "model_response"
	KindFileError     Kind = "file_error"
	KindCancelled     Kind = "cancelled"
	KindSaving        Kind = "saving"
	KindCompleted     Kind = "completed"
	KindFailed        Kind = "failed"
)

// Event represents a progress update during a batch run
type Event struct {
	RunID    string    `json:"run_id"`
	Kind     Kind      `json:"kind"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	File     string    `json:"file,omitempty"`
	Time     time.Time `json:"time"`
}

// Final reports whether no further events follow in the run
func (e Event) Final() bool {
	return e.Kind == KindCompleted || e.Kind == KindFailed
}
