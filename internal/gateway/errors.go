package gateway

import (
	"errors"
	"fmt"

	"github.com/getdatasurge/fresh-staged-sub013/internal/auth"
)

// AuthRejectedError terminates a connection attempt.
type AuthRejectedError struct {
	Reason auth.TokenReason
	Err    error
}

func (e *AuthRejectedError) Error() string {
	return fmt.Sprintf("gateway: connection rejected: %s", e.Reason)
}

func (e *AuthRejectedError) Unwrap() error { return e.Err }

// RoomReason classifies a refused room subscription.
type RoomReason string

const (
	RoomForbidden RoomReason = "forbidden"
	RoomNotFound  RoomReason = "not_found"
	RoomInvalid   RoomReason = "invalid"
)

// RoomError is returned when a subscription request is refused.
type RoomError struct {
	Reason RoomReason
	Room   string
}

func (e *RoomError) Error() string {
	if e.Room == "" {
		return fmt.Sprintf("gateway: room refused: %s", e.Reason)
	}
	return fmt.Sprintf("gateway: room %s refused: %s", e.Room, e.Reason)
}

// ErrClosed is returned by operations on a disconnected connection.
var ErrClosed = errors.New("gateway: connection closed")

// RejectReason returns the reason carried by an AuthRejectedError, or "".
func RejectReason(err error) auth.TokenReason {
	var rejected *AuthRejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason
	}
	return ""
}
