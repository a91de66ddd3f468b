package core

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned for empty or blank requests. No backend call is
// made for such input.
var ErrInvalidInput = errors.New("invalid input: request text is empty")

// Stage names the pipeline step an error originated from.
type Stage string

const (
	// StageClassification is the task vs. chat decision.
	StageClassification Stage = "classification"
	// StageSelection is the capability selection step.
	StageSelection Stage = "selection"
	// StageCompletion is the terminal answer-producing model call.
	StageCompletion Stage = "completion"
)

// ClassificationError reports a backend failure while classifying an
// ambiguous request. It is recovered locally: the request is treated as chat.
type ClassificationError struct{ Err error }

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("%s failed: %v", StageClassification, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ClassificationError) Unwrap() error { return e.Err }

// SelectionError reports a backend failure or malformed output during
// capability selection. It is recovered locally: no capability is selected.
type SelectionError struct {
	Err error
	Raw string // raw model output when parsing failed
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("%s failed: %v", StageSelection, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SelectionError) Unwrap() error { return e.Err }

// CompletionError reports a failure of the final answer-producing call. It is
// always surfaced to the caller.
type CompletionError struct {
	InvocationID string
	Err          error
}

func (e *CompletionError) Error() string {
	if e.InvocationID != "" {
		return fmt.Sprintf("%s failed (invocation %s): %v", StageCompletion, e.InvocationID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", StageCompletion, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CompletionError) Unwrap() error { return e.Err }

// IsCompletionError reports whether err (or any error it wraps) is a CompletionError.
func IsCompletionError(err error) bool {
	var ce *CompletionError
	return errors.As(err, &ce)
}
