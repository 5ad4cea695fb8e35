package scanning

import (
	"context"
	"errors"
)

// Temperature is the sampling temperature used for every receipt request.
// Kept low to bias the model toward deterministic structured output.
const Temperature = 0.2

// ErrCredentialMissing is returned when a backend that needs an API key gets none
var ErrCredentialMissing = errors.New("gemini api key is required")

// Scanner defines the interface for receipt inference backends
type Scanner interface {
	// Extract sends one prepared receipt image together with ReceiptPrompt
	// and returns the model's raw text response
	Extract(ctx context.Context, img Image) (string, error)
	// Close closes the scanner and releases resources
	Close() error
}
