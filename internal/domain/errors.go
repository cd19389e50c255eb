package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable marks connection and transaction failures. The
	// enclosing unit of work is rolled back.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned by lookups that matched no row.
	ErrNotFound = errors.New("not found")

	// ErrLocationNotFound is returned when a record references an unknown location.
	ErrLocationNotFound = errors.New("location not found")

	// ErrPredictionNotFound is returned when reconciling an unknown prediction id.
	ErrPredictionNotFound = errors.New("prediction not found")

	// ErrAlreadyReconciled is returned when a prediction already carries an
	// actual value and the caller did not ask to overwrite it.
	ErrAlreadyReconciled = errors.New("prediction already reconciled")

	// ErrNoActiveModel is returned when no model version is active.
	ErrNoActiveModel = errors.New("no active model version")
)

// ValidationError describes a malformed feed record. The record is skipped
// and counted; the rest of the batch proceeds.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
}

// InsufficientDataError is returned when even the synthetic tier cannot
// produce enough training rows.
type InsufficientDataError struct {
	City     string
	Rows     int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient training data for %s: %d rows, need %d", e.City, e.Rows, e.Required)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
