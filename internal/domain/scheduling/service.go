package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentaldesk/dentaldesk/internal/platform/db"
	"github.com/dentaldesk/dentaldesk/internal/platform/metrics"
)

type Service struct {
	bookings  BookingRepository
	types     AppointmentTypeRepository
	directory Directory
	calendar  OperatingCalendar

	cache        AvailabilityCache
	metrics      *metrics.SchedulingMetrics
	logger       zerolog.Logger
	storeTimeout time.Duration
}

func NewService(bookings BookingRepository, types AppointmentTypeRepository, directory Directory, cal OperatingCalendar) *Service {
	return &Service{
		bookings:  bookings,
		types:     types,
		directory: directory,
		calendar:  cal,
		logger:    zerolog.Nop(),
	}
}

// SetCache enables the availability cache. Cache failures never fail a
// request; they are logged and the store is read instead.
func (s *Service) SetCache(c AvailabilityCache) { s.cache = c }

func (s *Service) SetMetrics(m *metrics.SchedulingMetrics) { s.metrics = m }

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l.With().Str("component", "scheduling").Logger() }

// SetStoreTimeout bounds every store round trip. Zero leaves the caller's
// deadline as the only bound.
func (s *Service) SetStoreTimeout(d time.Duration) { s.storeTimeout = d }

func (s *Service) Calendar() OperatingCalendar { return s.calendar }

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout > 0 {
		return context.WithTimeout(ctx, s.storeTimeout)
	}
	return context.WithCancel(ctx)
}

// classify leaves typed errors alone and turns timeouts, cancellation and
// dropped connections into a *TransientStoreError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransientStoreError
	if errors.As(err, &te) {
		return err
	}
	if db.IsTransient(err) {
		return &TransientStoreError{Op: op, Err: err}
	}
	return err
}

// -- Appointment types --

func (s *Service) ListAppointmentTypes(ctx context.Context) ([]*AppointmentType, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	items, err := s.types.List(sctx)
	return items, classify("list appointment types", err)
}

// resolveDuration picks the appointment length: an explicit positive
// duration wins, otherwise the catalog duration of typeCode. The result never
// exceeds the length of the working day.
func (s *Service) resolveDuration(ctx context.Context, typeCode string, explicit int) (int, error) {
	d, err := s.lookupDuration(ctx, typeCode, explicit)
	if err != nil {
		return 0, err
	}
	if d > s.calendar.dayMinutes() {
		return 0, invalid("duration_minutes", fmt.Sprintf("must not exceed the %d minute working day", s.calendar.dayMinutes()))
	}
	return d, nil
}

func (s *Service) lookupDuration(ctx context.Context, typeCode string, explicit int) (int, error) {
	if explicit < 0 {
		return 0, invalid("duration_minutes", "must be positive")
	}
	typeCode = strings.TrimSpace(typeCode)
	if typeCode == "" {
		if explicit == 0 {
			return 0, invalid("duration_minutes", "is required when appointment_type is not given")
		}
		return explicit, nil
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	t, err := s.types.GetByCode(sctx, typeCode)
	if errors.Is(err, ErrAppointmentTypeNotFound) {
		return 0, invalid("appointment_type", fmt.Sprintf("unknown appointment type %q", typeCode))
	}
	if err != nil {
		return 0, classify("get appointment type", err)
	}
	if !t.Active {
		return 0, invalid("appointment_type", fmt.Sprintf("appointment type %q is not offered", typeCode))
	}
	if explicit > 0 {
		return explicit, nil
	}
	if t.DurationMinutes <= 0 {
		return 0, invalid("appointment_type", fmt.Sprintf("appointment type %q has no duration", typeCode))
	}
	return t.DurationMinutes, nil
}

func (s *Service) requireProvider(ctx context.Context, id uuid.UUID) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	ok, err := s.directory.ProviderExists(sctx, id)
	if err != nil {
		return classify("lookup provider", err)
	}
	if !ok {
		return invalid("provider_id", "unknown or non-bookable provider")
	}
	return nil
}

func (s *Service) requirePatient(ctx context.Context, id uuid.UUID) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	ok, err := s.directory.PatientExists(sctx, id)
	if err != nil {
		return classify("lookup patient", err)
	}
	if !ok {
		return invalid("patient_id", "unknown patient")
	}
	return nil
}

// -- Availability --

// Availability returns the slot starts at which an appointment of the
// requested length can be booked for the provider on the date. The result
// reflects the store at read time and is not a reservation.
func (s *Service) Availability(ctx context.Context, q AvailabilityQuery) (*Availability, error) {
	started := time.Now()
	if q.ProviderID == uuid.Nil {
		return nil, invalid("provider_id", "is required")
	}
	if !q.Date.IsValid() {
		return nil, invalid("date", "is required")
	}
	duration, err := s.resolveDuration(ctx, q.AppointmentType, q.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if err := s.requireProvider(ctx, q.ProviderID); err != nil {
		return nil, err
	}

	result := &Availability{ProviderID: q.ProviderID, Date: q.Date, DurationMinutes: duration}
	if slots, ok := s.cachedSlots(ctx, q.ProviderID, q.Date, duration); ok {
		result.Slots = slots
		s.metrics.ObserveAvailability("hit", time.Since(started).Seconds())
		return result, nil
	}

	gen, cacheable := s.cacheGeneration(ctx, q.ProviderID, q.Date)

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	existing, err := s.bookings.ListActive(sctx, q.ProviderID, q.Date)
	if err != nil {
		return nil, classify("list active bookings", err)
	}
	result.Slots = AvailableSlots(GenerateSlots(s.calendar), existing, duration, s.calendar)

	if cacheable {
		s.storeSlots(ctx, q.ProviderID, q.Date, duration, gen, result.Slots)
	}
	s.metrics.ObserveAvailability("miss", time.Since(started).Seconds())
	return result, nil
}

func (s *Service) cachedSlots(ctx context.Context, providerID uuid.UUID, date civil.Date, duration int) ([]civil.Time, bool) {
	if s.cache == nil {
		return nil, false
	}
	slots, ok, err := s.cache.Get(ctx, providerID, date, duration)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider_id", providerID.String()).Str("date", date.String()).Msg("availability cache read failed")
		return nil, false
	}
	if ok && slots == nil {
		slots = []civil.Time{}
	}
	return slots, ok
}

// cacheGeneration reads the cache generation ahead of the store read. The
// computed list is only cacheable when this succeeds.
func (s *Service) cacheGeneration(ctx context.Context, providerID uuid.UUID, date civil.Date) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	gen, err := s.cache.Generation(ctx, providerID, date)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider_id", providerID.String()).Str("date", date.String()).Msg("availability cache generation read failed")
		return 0, false
	}
	return gen, true
}

func (s *Service) storeSlots(ctx context.Context, providerID uuid.UUID, date civil.Date, duration int, gen int64, slots []civil.Time) {
	stored, err := s.cache.Put(ctx, providerID, date, duration, gen, slots)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider_id", providerID.String()).Str("date", date.String()).Msg("availability cache write failed")
		return
	}
	if !stored {
		s.logger.Debug().Str("provider_id", providerID.String()).Str("date", date.String()).Msg("availability changed during read, not cached")
	}
}

func (s *Service) invalidate(ctx context.Context, providerID uuid.UUID, date civil.Date) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, providerID, date); err != nil {
		s.logger.Warn().Err(err).Str("provider_id", providerID.String()).Str("date", date.String()).Msg("availability cache invalidation failed")
	}
}

// -- Booking commit --

// CommitBooking books the requested interval if it is still free. The
// overlap check and the insert run inside one WithinDay unit, so two
// concurrent commits for intersecting intervals cannot both succeed.
//
// Errors are *ValidationError, *ConflictError or *TransientStoreError. On a
// TransientStoreError the booking may have been stored; retrying with the
// same RequestToken is safe.
func (s *Service) CommitBooking(ctx context.Context, req BookingRequest) (*Commit, error) {
	commit, err := s.commit(ctx, req)
	s.metrics.ObserveCommit(commitOutcome(commit, err))
	return commit, err
}

func commitOutcome(c *Commit, err error) string {
	switch {
	case err == nil && c.Replayed:
		return metrics.OutcomeReplayed
	case err == nil:
		return metrics.OutcomeCommitted
	case errors.Is(err, ErrConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, ErrValidation):
		return metrics.OutcomeValidation
	case errors.Is(err, ErrTransient):
		return metrics.OutcomeTransient
	}
	return metrics.OutcomeError
}

func validateRequest(req BookingRequest) error {
	if req.ProviderID == uuid.Nil {
		return invalid("provider_id", "is required")
	}
	if req.PatientID == uuid.Nil {
		return invalid("patient_id", "is required")
	}
	if !req.Date.IsValid() {
		return invalid("date", "is required")
	}
	return nil
}

func (s *Service) commit(ctx context.Context, req BookingRequest) (*Commit, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	duration, err := s.resolveDuration(ctx, req.AppointmentType, req.DurationMinutes)
	if err != nil {
		return nil, err
	}
	start := minuteOfDay(req.StartTime)
	end := start + duration
	if start < s.calendar.openMinute() {
		return nil, invalid("start_time", "before opening time "+FormatClock(s.calendar.OpenTime))
	}
	if err := s.requireProvider(ctx, req.ProviderID); err != nil {
		return nil, err
	}
	if err := s.requirePatient(ctx, req.PatientID); err != nil {
		return nil, err
	}

	token := strings.TrimSpace(req.RequestToken)
	if token != "" {
		if prior, err := s.replay(ctx, token, req, duration); prior != nil || err != nil {
			return prior, err
		}
	}

	if end > s.calendar.closeMinute() {
		return nil, &ConflictError{
			ProviderID: req.ProviderID, Date: req.Date,
			StartTime: clockAt(start), EndTime: clockAt(end),
			Reason: "appointment would end after closing time " + FormatClock(s.calendar.CloseTime),
		}
	}

	b := &Booking{
		ProviderID:      req.ProviderID,
		PatientID:       req.PatientID,
		AppointmentType: strings.TrimSpace(req.AppointmentType),
		Date:            req.Date,
		StartTime:       clockAt(start),
		EndTime:         clockAt(end),
		DurationMinutes: duration,
		Status:          StatusScheduled,
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		b.Notes = &notes
	}
	if token != "" {
		b.RequestToken = &token
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	err = s.bookings.WithinDay(sctx, req.ProviderID, req.Date, func(ctx context.Context, tx DayTx) error {
		existing, err := tx.ListActive(ctx)
		if err != nil {
			return err
		}
		if c := firstConflict(start, end, existing); c != nil {
			return &ConflictError{
				ProviderID: req.ProviderID, Date: req.Date,
				StartTime: b.StartTime, EndTime: b.EndTime,
				ConflictingID: c.ID,
			}
		}
		return tx.Insert(ctx, b)
	})
	if token != "" && (errors.Is(err, ErrDuplicateRequestToken) || errors.Is(err, ErrConflict)) {
		// Another attempt with the same token may have won the race.
		prior, rerr := s.replay(ctx, token, req, duration)
		if rerr != nil || prior != nil {
			return prior, rerr
		}
		if errors.Is(err, ErrDuplicateRequestToken) {
			return nil, &TransientStoreError{Op: "replay booking", Err: err}
		}
	}
	if err != nil {
		err = classify("commit booking", err)
		s.logCommitFailure(req, err)
		return nil, err
	}

	s.invalidate(ctx, b.ProviderID, b.Date)
	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("provider_id", b.ProviderID.String()).
		Str("date", b.Date.String()).
		Str("start", FormatClock(b.StartTime)).
		Int("duration", b.DurationMinutes).
		Msg("booking committed")
	return &Commit{Booking: b}, nil
}

func (s *Service) logCommitFailure(req BookingRequest, err error) {
	level := zerolog.ErrorLevel
	switch {
	case errors.Is(err, ErrConflict):
		level = zerolog.DebugLevel
	case errors.Is(err, ErrTransient):
		level = zerolog.WarnLevel
	}
	s.logger.WithLevel(level).Err(err).
		Str("provider_id", req.ProviderID.String()).
		Str("date", req.Date.String()).
		Str("start", FormatClock(req.StartTime)).
		Msg("booking commit rejected")
}

// replay looks up a booking stored under token. It returns (nil, nil) when
// no booking carries the token.
func (s *Service) replay(ctx context.Context, token string, req BookingRequest, duration int) (*Commit, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	prior, err := s.bookings.GetByRequestToken(sctx, token)
	if errors.Is(err, ErrBookingNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get booking by request token", err)
	}
	if !sameRequest(prior, req, duration) {
		return nil, invalid("request_token", "already used for a different booking")
	}
	return &Commit{Booking: prior, Replayed: true}, nil
}

func sameRequest(b *Booking, req BookingRequest, duration int) bool {
	return b.ProviderID == req.ProviderID &&
		b.PatientID == req.PatientID &&
		b.Date == req.Date &&
		minuteOfDay(b.StartTime) == minuteOfDay(req.StartTime) &&
		b.DurationMinutes == duration
}

// -- Status transitions --

// Transition moves a booking along scheduled -> completed | cancelled |
// no-show. Cancelling frees the interval for later commits.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status) (*Booking, error) {
	if !to.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", to))
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	b, err := s.bookings.GetByID(sctx, id)
	if err != nil {
		return nil, classify("get booking", err)
	}
	if !CanTransition(b.Status, to) {
		return nil, invalid("status", fmt.Sprintf("cannot move booking from %s to %s", b.Status, to))
	}
	updated, err := s.bookings.UpdateStatus(sctx, id, b.Status, to)
	if errors.Is(err, ErrStatusChanged) {
		current, gerr := s.bookings.GetByID(sctx, id)
		if gerr != nil {
			return nil, classify("get booking", gerr)
		}
		return nil, invalid("status", fmt.Sprintf("booking is already %s", current.Status))
	}
	if err != nil {
		return nil, classify("update booking status", err)
	}

	s.invalidate(ctx, updated.ProviderID, updated.Date)
	s.metrics.ObserveTransition(string(to))
	s.logger.Info().
		Str("booking_id", id.String()).
		Str("from", string(b.Status)).
		Str("to", string(to)).
		Msg("booking status changed")
	return updated, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.Transition(ctx, id, StatusCancelled)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.Transition(ctx, id, StatusCompleted)
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.Transition(ctx, id, StatusNoShow)
}

// -- Reads --

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	b, err := s.bookings.GetByID(sctx, id)
	return b, classify("get booking", err)
}

// ListProviderDay returns every booking of the provider on date, including
// cancelled ones.
func (s *Service) ListProviderDay(ctx context.Context, providerID uuid.UUID, date civil.Date) ([]*Booking, error) {
	if providerID == uuid.Nil {
		return nil, invalid("provider_id", "is required")
	}
	if !date.IsValid() {
		return nil, invalid("date", "is required")
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	items, err := s.bookings.ListByProviderDate(sctx, providerID, date)
	return items, classify("list bookings", err)
}

func (s *Service) ListPatientBookings(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	if patientID == uuid.Nil {
		return nil, 0, invalid("patient_id", "is required")
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	items, total, err := s.bookings.ListByPatient(sctx, patientID, limit, offset)
	return items, total, classify("list patient bookings", err)
}
