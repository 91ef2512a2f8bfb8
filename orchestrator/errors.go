package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sahasrahbot/sglbot/race"
	"github.com/sahasrahbot/sglbot/seedgen"
	"github.com/sahasrahbot/sglbot/store"
)

// Errors raised by collaborators, re-exported so callers only import this package.
type (
	UnknownEventError       = race.UnknownEventError
	DuplicateKeyError       = store.DuplicateKeyError
	InvariantViolationError = store.InvariantViolationError
)

// NoAssociatedRaceError is returned when a room has no active record.
type NoAssociatedRaceError struct {
	Room string
}

func (e *NoAssociatedRaceError) Error() string {
	return "This race should have an SG episode associated with it.  Please contact a Tournament Admin for assistance."
}

// DuplicateSeedError is returned when a room already has a seed.
type DuplicateSeedError struct {
	Room string
}

func (e *DuplicateSeedError) Error() string {
	return "I already rolled a seed!  Use !cancel to clear the currently rolled game."
}

// ExternalServiceError wraps a failed adapter call.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Retryable reports whether the same call could succeed later.
func (e *ExternalServiceError) Retryable() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	return seedgen.IsRetryable(e.Err)
}

func external(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *ExternalServiceError
	if errors.As(err, &ee) {
		return err
	}
	return &ExternalServiceError{Service: service, Op: op, Err: err}
}

// ErrSeedTimeout is the cause attached when seed generation exceeds its budget.
var ErrSeedTimeout = errors.New("seed generation timed out")
