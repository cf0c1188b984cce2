package clinical

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dentaldesk/dentaldesk/internal/domain/scheduling"
)

// Directory answers whether the people a note refers to exist.
type Directory interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
	ProviderExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// BookingLookup resolves the visit a note is attached to.
type BookingLookup interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*scheduling.Booking, error)
}

type Service struct {
	notes    NoteRepository
	dir      Directory
	bookings BookingLookup
}

func NewService(notes NoteRepository, dir Directory) *Service {
	return &Service{notes: notes, dir: dir}
}

// SetBookings enables booking_id checks on new notes.
func (s *Service) SetBookings(b BookingLookup) {
	s.bookings = b
}

// CreateNote appends a note to the patient's chart.
func (s *Service) CreateNote(ctx context.Context, n *Note) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if err := s.checkPeople(ctx, n); err != nil {
		return err
	}
	if err := s.checkBooking(ctx, n); err != nil {
		return err
	}
	if n.Amends != nil {
		prev, err := s.notes.GetByID(ctx, *n.Amends)
		if errors.Is(err, ErrNoteNotFound) {
			return invalidf("amended note %s does not exist", n.Amends)
		}
		if err != nil {
			return err
		}
		if prev.PatientID != n.PatientID {
			return invalidf("amended note belongs to another patient")
		}
	}
	return s.notes.Create(ctx, n)
}

func (s *Service) checkPeople(ctx context.Context, n *Note) error {
	if s.dir == nil {
		return nil
	}
	ok, err := s.dir.PatientExists(ctx, n.PatientID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPatientNotFound
	}
	ok, err = s.dir.ProviderExists(ctx, n.ProviderID)
	if err != nil {
		return err
	}
	if !ok {
		return invalidf("provider %s is not an active clinician", n.ProviderID)
	}
	return nil
}

func (s *Service) checkBooking(ctx context.Context, n *Note) error {
	if n.BookingID == nil || s.bookings == nil {
		return nil
	}
	b, err := s.bookings.GetBooking(ctx, *n.BookingID)
	if errors.Is(err, scheduling.ErrBookingNotFound) {
		return invalidf("booking %s does not exist", n.BookingID)
	}
	if err != nil {
		return err
	}
	if b.PatientID != n.PatientID {
		return invalidf("booking belongs to another patient")
	}
	if b.Status == scheduling.StatusCancelled {
		return invalidf("cannot attach a note to a cancelled booking")
	}
	return nil
}

func (s *Service) GetNote(ctx context.Context, id uuid.UUID) (*Note, error) {
	return s.notes.GetByID(ctx, id)
}

func (s *Service) ListPatientNotes(ctx context.Context, patientID uuid.UUID, f NoteFilter, limit, offset int) ([]*Note, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.notes.ListByPatient(ctx, patientID, f, limit, offset)
}
