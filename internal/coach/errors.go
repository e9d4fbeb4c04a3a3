package coach

import (
	"errors"
	"fmt"
)

// TransportError means no usable response was received: the request could
// not be sent, the connection failed, or the circuit breaker is open.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServiceError means the service answered, but with a non-success status or
// a payload that could not be used.
type ServiceError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// ErrorMessage returns the text a user should see for err. Transport
// failures collapse to the operation's generic message.
func ErrorMessage(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	var trErr *TransportError
	if errors.As(err, &trErr) {
		return fallbackMessage(trErr.Op)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

const (
	OpUpload         = "upload"
	OpAnalyze        = "analyze"
	OpFeedback       = "feedback"
	OpAsk            = "ask"
	OpGenerateImages = "generate-images"
)

func fallbackMessage(op string) string {
	switch op {
	case OpUpload:
		return "Failed to upload video."
	case OpAnalyze:
		return "Failed to analyze video."
	case OpFeedback:
		return "Failed to get coaching feedback."
	case OpAsk:
		return "Failed to get an answer."
	case OpGenerateImages:
		return "Failed to generate analysis images."
	}
	return "An error occurred"
}
