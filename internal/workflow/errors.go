package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrPushInFlight is returned by mutating operations while an upload runs
	ErrPushInFlight = errors.New("an upload is in progress")
	// ErrNothingConfirmed is returned when a push is opened without confirmed data
	ErrNothingConfirmed = errors.New("no confirmed data to push")
)

// Reason identifies which confirmation precondition failed
type Reason string

const (
	ReasonNoMarket     Reason = "no_market"
	ReasonNotValidated Reason = "not_validated"
	ReasonInvalidRows  Reason = "invalid_rows"
)

var reasonMessages = map[Reason]string{
	ReasonNoMarket:     "Please select a country",
	ReasonNotValidated: "Please validate the data first before confirming country selection",
	ReasonInvalidRows:  "All data must be valid to proceed. Please fix invalid rows first",
}

// PreconditionError is a refused confirmation. State is unchanged.
type PreconditionError struct {
	Reason  Reason
	Message string
}

func newPreconditionError(r Reason) *PreconditionError {
	return &PreconditionError{Reason: r, Message: reasonMessages[r]}
}

func (e *PreconditionError) Error() string {
	return e.Message
}

// TransitionError is an event the push flow cannot accept in its current stage
type TransitionError struct {
	Stage PushStage
	Event PushEvent
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("push event %q is not allowed in stage %q", e.Event, e.Stage)
}
