package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxRetriesExceeded is returned when retrying a job at the retry ceiling.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrImageNotFound      = errors.New("image not found")
	ErrNoSelectableImage  = errors.New("job has no selectable image")
	ErrNotTerminal        = errors.New("job is not in a terminal state")
)

// InvalidTransitionError reports a transition the state machine does not allow.
type InvalidTransitionError struct {
	From JobStatus
	To   JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job status transition from %s to %s", e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}
