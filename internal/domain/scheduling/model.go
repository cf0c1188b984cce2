package scheduling

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no-show"
)

// allowedTransitions lists, per state, the states it may move to. Terminal
// states have no entry.
var allowedTransitions = map[Status]map[Status]bool{
	StatusScheduled: {StatusCompleted: true, StatusCancelled: true, StatusNoShow: true},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(allowedTransitions[s]) == 0
}

// CanTransition reports whether a booking in from may move to to.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// Booking maps to the booking table. EndTime is stored alongside
// DurationMinutes and always equals StartTime + DurationMinutes.
type Booking struct {
	ID              uuid.UUID  `json:"id"`
	ProviderID      uuid.UUID  `json:"provider_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	AppointmentType string     `json:"appointment_type,omitempty"`
	Date            civil.Date `json:"date"`
	StartTime       civil.Time `json:"start_time"`
	EndTime         civil.Time `json:"end_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          Status     `json:"status"`
	Notes           *string    `json:"notes,omitempty"`
	RequestToken    *string    `json:"request_token,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Occupies reports whether the booking blocks its interval.
func (b *Booking) Occupies() bool { return b.Status != StatusCancelled }

func (b *Booking) startMinute() int { return minuteOfDay(b.StartTime) }
func (b *Booking) endMinute() int   { return minuteOfDay(b.EndTime) }

// AppointmentType maps a catalog code to its default duration.
type AppointmentType struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Active          bool   `json:"active"`
}

// BookingRequest is the input to CommitBooking. DurationMinutes, when set,
// overrides the appointment type's catalog duration.
type BookingRequest struct {
	ProviderID      uuid.UUID
	PatientID       uuid.UUID
	Date            civil.Date
	StartTime       civil.Time // zero value is midnight, rejected as before opening
	AppointmentType string
	DurationMinutes int
	Notes           string
	RequestToken    string
}

// AvailabilityQuery selects the provider/day/duration to compute slots for.
type AvailabilityQuery struct {
	ProviderID      uuid.UUID
	Date            civil.Date
	AppointmentType string
	DurationMinutes int
}

// Availability is the result of an availability query.
type Availability struct {
	ProviderID      uuid.UUID    `json:"provider_id"`
	Date            civil.Date   `json:"date"`
	DurationMinutes int          `json:"duration_minutes"`
	Slots           []civil.Time `json:"slots"`
}

// Commit is the outcome of a successful CommitBooking. Replayed is set when
// the request token matched a booking stored by an earlier attempt.
type Commit struct {
	Booking  *Booking
	Replayed bool
}
