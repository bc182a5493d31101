package verification

import (
	"errors"
	"fmt"
)

// Kind classifies a submission failure. Every failure maps to exactly one kind.
type Kind int

const (
	Timeout Kind = iota + 1
	NetworkUnreachable
	BackendRejected
	MalformedResponse
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "TIMEOUT"
	case NetworkUnreachable:
		return "NETWORK_UNREACHABLE"
	case BackendRejected:
		return "BACKEND_REJECTED"
	case MalformedResponse:
		return "MALFORMED_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Error is returned by Client.Submit.
type Error struct {
	Kind Kind
	// Status and Body are set for BackendRejected.
	Status int
	Body   []byte
	// Message is a human-readable summary, preferring the backend's own message.
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or 0 when err is not a submission error.
func KindOf(err error) Kind {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return 0
}
