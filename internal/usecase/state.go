package usecase

import (
	"errors"
	"time"

	"github.com/example/faceid/internal/outcome"
)

// State is the workflow state of one session.
type State int

const (
	Idle State = iota
	Initializing
	Capturing
	Submitting
	Succeeded
	Failed
)

var stateNames = [...]string{"idle", "initializing", "capturing", "submitting", "succeeded", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// InFlight reports whether an action currently owns the session.
func (s State) InFlight() bool {
	return s == Initializing || s == Capturing || s == Submitting
}

var (
	// ErrBusy rejects an action while another one is in flight.
	ErrBusy = errors.New("another action is in progress")
	// ErrNeedsRetry rejects a capture from a terminal state.
	ErrNeedsRetry = errors.New("session must be reset with retry first")
	// ErrNothingToSubmit means there are no frames waiting for enrollment.
	ErrNothingToSubmit = errors.New("no captured frames awaiting submission")
	// ErrIncompleteIdentity means the identity form is not valid yet.
	ErrIncompleteIdentity = errors.New("identity form is incomplete")
	// ErrClosed rejects actions after Close.
	ErrClosed = errors.New("session closed")
)

// ErrorInfo is the user-facing failure of the last action.
type ErrorInfo struct {
	Code    outcome.Code `json:"code"`
	Message string       `json:"message"`
}

// Snapshot is the read-only view handed to the presentation layer.
type Snapshot struct {
	State     State            `json:"state"`
	Route     string           `json:"route,omitempty"`
	Countdown int              `json:"countdown"`
	Frames    int              `json:"frames"`
	Pending   bool             `json:"pending_submit"`
	Outcome   *outcome.Outcome `json:"outcome"`
	Error     *ErrorInfo       `json:"error"`
	AttemptID string           `json:"attempt_id,omitempty"`
	DeviceID  string           `json:"device_id,omitempty"`
	// RequestTime is the latency of the last submission.
	RequestTime   time.Duration `json:"-"`
	RequestTimeMs int64         `json:"request_time_ms"`
}
