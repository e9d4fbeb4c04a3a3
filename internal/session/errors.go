package session

import (
	"errors"
	"fmt"
)

var (
	ErrNoMedia          = errors.New("no media file selected")
	ErrNoVideo          = errors.New("no uploaded video")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrInvalidPhase     = errors.New("action not allowed in current phase")
	ErrAnalysisInFlight = errors.New("analysis already in progress")
)

// ValidationError reports an action rejected before anything happened.
// The session is unchanged and nothing is added to the transcript.
type ValidationError struct {
	Action string
	Phase  Phase
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s rejected in phase %s: %v", e.Action, e.Phase, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
