package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies change tracking failures.
type ErrorKind string

const (
	// ErrorKindConfiguration marks model problems found at load time.
	ErrorKindConfiguration ErrorKind = "configuration"
	// ErrorKindResolution marks display values that could not be resolved.
	ErrorKindResolution ErrorKind = "resolution"
	// ErrorKindConsistency marks snapshots that do not match the mutation.
	ErrorKindConsistency ErrorKind = "consistency"
	// ErrorKindPersistence marks change log writes that failed. It is the only
	// kind that aborts the business transaction.
	ErrorKindPersistence ErrorKind = "persistence"
)

// TrackingError carries the kind of a change tracking failure and the entity
// it concerns.
type TrackingError struct {
	Kind   ErrorKind
	Entity string
	Err    error
}

var (
	ErrConfiguration = &TrackingError{Kind: ErrorKindConfiguration}
	ErrResolution    = &TrackingError{Kind: ErrorKindResolution}
	ErrConsistency   = &TrackingError{Kind: ErrorKindConsistency}
	ErrPersistence   = &TrackingError{Kind: ErrorKindPersistence}
)

// NewTrackingError wraps err with the given kind.
func NewTrackingError(kind ErrorKind, entity string, err error) *TrackingError {
	return &TrackingError{Kind: kind, Entity: entity, Err: err}
}

func (e *TrackingError) Error() string {
	switch {
	case e.Err == nil && e.Entity == "":
		return fmt.Sprintf("change tracking %s error", e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("change tracking %s error for %s", e.Kind, e.Entity)
	case e.Entity == "":
		return fmt.Sprintf("change tracking %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("change tracking %s error for %s: %v", e.Kind, e.Entity, e.Err)
}

func (e *TrackingError) Unwrap() error {
	return e.Err
}

// Is matches any TrackingError of the same kind, so errors.Is(err,
// ErrPersistence) works regardless of entity or cause.
func (e *TrackingError) Is(target error) bool {
	var other *TrackingError
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Kind == other.Kind
}
