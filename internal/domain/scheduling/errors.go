package scheduling

import (
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// Sentinels for errors.Is. The typed errors below match them.
var (
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("slot no longer available")
	ErrTransient       = errors.New("booking store unavailable")
	ErrBookingNotFound = errors.New("booking not found")

	ErrAppointmentTypeNotFound = errors.New("appointment type not found")

	// ErrStatusChanged is returned by UpdateStatus when the stored status no
	// longer matches the expected one.
	ErrStatusChanged = errors.New("booking status changed concurrently")

	// ErrDuplicateRequestToken is returned by DayTx.Insert when another
	// booking already carries the request token.
	ErrDuplicateRequestToken = errors.New("request token already used")
)

// ValidationError reports caller input that can never succeed as sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError reports that the requested interval is not free.
type ConflictError struct {
	ProviderID uuid.UUID
	Date       civil.Date
	StartTime  civil.Time
	EndTime    civil.Time
	// ConflictingID is the overlapping booking, uuid.Nil when the store
	// reported the collision without naming it or the interval runs past
	// closing.
	ConflictingID uuid.UUID
	Reason        string
}

func (e *ConflictError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = ErrConflict.Error()
	}
	return fmt.Sprintf("%s (%s %s-%s)", reason, e.Date, FormatClock(e.StartTime), FormatClock(e.EndTime))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// TransientStoreError reports that the store could not be reached or timed
// out. The booking may or may not exist; callers re-query before retrying.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("booking store %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

func (e *TransientStoreError) Is(target error) bool { return target == ErrTransient }
