package domain

import (
	"errors"
	"fmt"

	"talep/internal/models"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrConflict               = errors.New("reservation conflict")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidState           = errors.New("invalid state")
	ErrNotification           = errors.New("notification delivery failed")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrResourceBusy           = errors.New("resource is busy")
)

// ValidationError describes a malformed or out-of-bounds input field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError is returned when a candidate range collides with existing
// reservations. For capacity resources Capacity and Remaining are set.
type ConflictError struct {
	ResourceID int64
	Conflicts  []*models.Reservation
	Capacity   int
	Remaining  *int
	Reason     string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("reservation conflict on resource %d: %s", e.ResourceID, e.Reason)
	}
	return fmt.Sprintf("reservation conflict on resource %d: %d overlapping reservation(s)", e.ResourceID, len(e.Conflicts))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ConflictIDs lists the ids of the conflicting reservations in order.
func (e *ConflictError) ConflictIDs() []int64 {
	ids := make([]int64, 0, len(e.Conflicts))
	for _, r := range e.Conflicts {
		ids = append(ids, r.ID)
	}
	return ids
}

// IsExpected reports whether err is a user-facing outcome rather than an
// infrastructure failure.
func IsExpected(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrResourceBusy)
}
