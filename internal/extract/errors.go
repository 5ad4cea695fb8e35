package extract

import (
	"errors"
	"fmt"
)

// ErrNoStructuredData is returned when the model response holds no JSON array of objects
var ErrNoStructuredData = errors.New("no valid JSON array found in the model response")

// MalformedJSONError represents a JSON array that was found but could not be used
type MalformedJSONError struct {
	Message string
	Cause   error
}

func (e *MalformedJSONError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed JSON: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("malformed JSON: %s", e.Message)
}

func (e *MalformedJSONError) Unwrap() error {
	return e.Cause
}
