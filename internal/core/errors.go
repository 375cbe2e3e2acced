package core

import (
	"errors"
	"fmt"
)

// ConnectionError reports a failed handshake, room resolution or transport
// drop for one connector.
type ConnectionError struct {
	Platform Platform
	Channel  string
	Op       string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s/%s: %s: %v", e.Platform, e.Channel, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AggregationPartialFailure reports how many per-user or per-bucket writes
// failed during one flush. The rest of the flush still landed.
type AggregationPartialFailure struct {
	SessionID      string
	FailedChatters int
	FailedBuckets  int
	Err            error
}

func (e *AggregationPartialFailure) Error() string {
	return fmt.Sprintf("aggregate %s: %d chatter and %d bucket writes failed: %v",
		e.SessionID, e.FailedChatters, e.FailedBuckets, e.Err)
}

func (e *AggregationPartialFailure) Unwrap() error { return e.Err }

// FinalizationError wraps a failure while ending or reporting one session.
type FinalizationError struct {
	SessionID string
	Stage     string
	Err       error
}

func (e *FinalizationError) Error() string {
	return fmt.Sprintf("finalize %s (%s): %v", e.SessionID, e.Stage, e.Err)
}

func (e *FinalizationError) Unwrap() error { return e.Err }

// DeliveryFailure is a notification that could not be delivered.
type DeliveryFailure struct {
	Address string
	Err     error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Address, e.Err)
}

func (e *DeliveryFailure) Unwrap() error { return e.Err }

// ErrClassificationDegraded marks a classification that fell back to defaults.
// It is never returned by the classifier; callers may wrap it when surfacing
// Classification.Degraded.
var ErrClassificationDegraded = errors.New("classification degraded")
