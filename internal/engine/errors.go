package engine

import (
	"errors"
	"fmt"

	"osrsbingo/internal/effects"
	"osrsbingo/internal/repo"
)

// ValidationError marks input the engine drops without any state change.
type ValidationError struct {
	Reason string
	cause  error
}

func (e ValidationError) Error() string { return "validation: " + e.Reason }

func (e ValidationError) Unwrap() error { return e.cause }

var errTileLocked = errors.New("tile locked")

func invalid(format string, args ...any) error {
	return ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }

func (e NotFoundError) Unwrap() error { return repo.ErrNotFound }

// InvalidStateError rejects an operation on a grant that cannot take it.
type InvalidStateError struct {
	GrantID string
	State   effects.State
	Op      string
	Reason  string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("grant %s (%s) cannot %s: %s", e.GrantID, e.State, e.Op, e.Reason)
}

// ErrConflict is a lost compare-and-swap or a busy database. It is retried.
var ErrConflict = errors.New("concurrent modification")

// ProcessingFailedError is returned once retries are exhausted. The work was
// not applied and may be submitted again.
type ProcessingFailedError struct {
	Attempts int
	Err      error
}

func (e ProcessingFailedError) Error() string {
	return fmt.Sprintf("processing failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e ProcessingFailedError) Unwrap() error { return e.Err }

// wrapNotFound turns repo.ErrNotFound into a NotFoundError for entity.
func wrapNotFound(err error, entity, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Entity: entity, ID: id}
	}
	return err
}

func stateError(err error) error {
	var te *effects.TransitionError
	if errors.As(err, &te) {
		return InvalidStateError{GrantID: te.GrantID, State: te.From, Op: te.Op, Reason: te.Reason}
	}
	return err
}
