package notifications

import (
	"context"
	"errors"
	"fmt"
)

// Tier is the retry class of a delivery failure.
type Tier string

const (
	// TierTransient failures are retried with backoff.
	TierTransient Tier = "transient"
	// TierRecoverable failures are held until an operator corrects the job.
	TierRecoverable Tier = "recoverable"
	// TierFatal failures are terminal and suppress the recipient.
	TierFatal Tier = "fatal"
)

// DeliveryError is the classified failure returned by providers.
type DeliveryError struct {
	Tier    Tier
	Code    string
	Message string
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("delivery %s: %s", e.Tier, e.Message)
	}
	return fmt.Sprintf("delivery %s (%s): %s", e.Tier, e.Code, e.Message)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Transient builds a retryable error.
func Transient(code, message string, err error) *DeliveryError {
	return &DeliveryError{Tier: TierTransient, Code: code, Message: message, Err: err}
}

// Recoverable builds an error that holds the job for correction.
func Recoverable(code, message string, err error) *DeliveryError {
	return &DeliveryError{Tier: TierRecoverable, Code: code, Message: message, Err: err}
}

// Fatal builds a terminal error.
func Fatal(code, message string, err error) *DeliveryError {
	return &DeliveryError{Tier: TierFatal, Code: code, Message: message, Err: err}
}

// Classify maps any provider error onto a tier. Timeouts and unknown errors are transient.
func Classify(err error) *DeliveryError {
	if err == nil {
		return nil
	}
	var delivery *DeliveryError
	if errors.As(err, &delivery) {
		return delivery
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient("timeout", "provider timed out", err)
	}
	return Transient("unknown", err.Error(), err)
}

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("notification job: not found")
	// ErrJobNotHeld is returned when retrying a job that is not held.
	ErrJobNotHeld = errors.New("notification job: not held")
	// ErrLeaseLost is returned when a job was reclaimed by another worker.
	ErrLeaseLost = errors.New("notification job: lease lost")
)
