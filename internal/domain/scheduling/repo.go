package scheduling

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// BookingRepository is the booking store. Implementations return
// *TransientStoreError when the store is unreachable or times out.
type BookingRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetByRequestToken(ctx context.Context, token string) (*Booking, error)
	// ListActive returns the non-cancelled bookings of a provider on a day,
	// ordered by start time.
	ListActive(ctx context.Context, providerID uuid.UUID, date civil.Date) ([]*Booking, error)
	ListByProviderDate(ctx context.Context, providerID uuid.UUID, date civil.Date) ([]*Booking, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Booking, int, error)
	// WithinDay runs fn as one atomic unit serialized against every other
	// WithinDay call for the same provider and date. An error from fn rolls
	// the unit back.
	WithinDay(ctx context.Context, providerID uuid.UUID, date civil.Date, fn func(ctx context.Context, tx DayTx) error) error
	// UpdateStatus moves a booking from one status to another, failing with
	// ErrStatusChanged when the stored status is not from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error)
}

// DayTx is the view of one provider/day inside WithinDay.
type DayTx interface {
	ListActive(ctx context.Context) ([]*Booking, error)
	Insert(ctx context.Context, b *Booking) error
}

type AppointmentTypeRepository interface {
	List(ctx context.Context) ([]*AppointmentType, error)
	GetByCode(ctx context.Context, code string) (*AppointmentType, error)
}

// Directory resolves the provider and patient references of a booking.
type Directory interface {
	ProviderExists(ctx context.Context, id uuid.UUID) (bool, error)
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// AvailabilityCache stores computed slot lists per provider/day/duration.
// Generation is read before the store; Put skips the write (false) once an
// Invalidate has moved the generation on.
type AvailabilityCache interface {
	Get(ctx context.Context, providerID uuid.UUID, date civil.Date, durationMinutes int) ([]civil.Time, bool, error)
	Generation(ctx context.Context, providerID uuid.UUID, date civil.Date) (int64, error)
	Put(ctx context.Context, providerID uuid.UUID, date civil.Date, durationMinutes int, generation int64, slots []civil.Time) (bool, error)
	Invalidate(ctx context.Context, providerID uuid.UUID, date civil.Date) error
}
