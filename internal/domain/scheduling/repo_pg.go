package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentaldesk/dentaldesk/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// txBeginner is satisfied by *pgxpool.Pool and by pgxmock pools.
type txBeginner interface {
	queryable
	Begin(ctx context.Context) (pgx.Tx, error)
}

const requestTokenConstraint = "booking_request_token_key"

// storeErr classifies a driver error: transient failures become
// *TransientStoreError, everything else is wrapped with op.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if db.IsTransient(err) {
		return &TransientStoreError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func dateArg(d civil.Date) time.Time { return d.In(time.UTC) }

// =========== Booking Repository ===========

type bookingRepoPG struct{ db txBeginner }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository { return &bookingRepoPG{db: pool} }

func newBookingRepo(conn txBeginner) *bookingRepoPG { return &bookingRepoPG{db: conn} }

const bookingCols = `id, provider_id, patient_id, appointment_type_code, booking_date,
	start_minute, end_minute, duration_minutes, status, notes, request_token, created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b                Booking
		date             time.Time
		startMin, endMin int
		status           string
		typeCode         *string
	)
	err := row.Scan(&b.ID, &b.ProviderID, &b.PatientID, &typeCode, &date,
		&startMin, &endMin, &b.DurationMinutes, &status, &b.Notes, &b.RequestToken,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Date = civil.DateOf(date)
	b.StartTime = clockAt(startMin)
	b.EndTime = clockAt(endMin)
	b.Status = Status(status)
	if typeCode != nil {
		b.AppointmentType = *typeCode
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]*Booking, error) {
	defer rows.Close()
	var items []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingCols+` FROM booking WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, storeErr("get booking", err)
}

func (r *bookingRepoPG) GetByRequestToken(ctx context.Context, token string) (*Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingCols+` FROM booking WHERE request_token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, storeErr("get booking by request token", err)
}

func listActive(ctx context.Context, q queryable, providerID uuid.UUID, date civil.Date) ([]*Booking, error) {
	rows, err := q.Query(ctx, `SELECT `+bookingCols+` FROM booking
		WHERE provider_id = $1 AND booking_date = $2 AND status <> 'cancelled'
		ORDER BY start_minute`, providerID, dateArg(date))
	if err != nil {
		return nil, storeErr("list active bookings", err)
	}
	items, err := collectBookings(rows)
	return items, storeErr("list active bookings", err)
}

func (r *bookingRepoPG) ListActive(ctx context.Context, providerID uuid.UUID, date civil.Date) ([]*Booking, error) {
	return listActive(ctx, r.db, providerID, date)
}

func (r *bookingRepoPG) ListByProviderDate(ctx context.Context, providerID uuid.UUID, date civil.Date) ([]*Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingCols+` FROM booking
		WHERE provider_id = $1 AND booking_date = $2
		ORDER BY start_minute, created_at`, providerID, dateArg(date))
	if err != nil {
		return nil, storeErr("list bookings", err)
	}
	items, err := collectBookings(rows)
	return items, storeErr("list bookings", err)
}

func (r *bookingRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM booking WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, storeErr("count patient bookings", err)
	}
	rows, err := r.db.Query(ctx, `SELECT `+bookingCols+` FROM booking WHERE patient_id = $1
		ORDER BY booking_date DESC, start_minute DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, storeErr("list patient bookings", err)
	}
	items, err := collectBookings(rows)
	if err != nil {
		return nil, 0, storeErr("list patient bookings", err)
	}
	return items, total, nil
}

// WithinDay opens a transaction and takes a transaction-scoped advisory
// lock keyed on provider and date, so concurrent commits for the same day
// queue behind each other while other days proceed. The booking table's
// EXCLUDE constraint rejects overlaps that bypass this path.
func (r *bookingRepoPG) WithinDay(ctx context.Context, providerID uuid.UUID, date civil.Date, fn func(ctx context.Context, tx DayTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, dayLockKey(providerID, date)); err != nil {
		return storeErr("lock provider day", err)
	}

	if err := fn(ctx, &dayTxPG{tx: tx, providerID: providerID, date: date}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit transaction", err)
	}
	committed = true
	return nil
}

func dayLockKey(providerID uuid.UUID, date civil.Date) string {
	return "booking:" + providerID.String() + ":" + date.String()
}

func (r *bookingRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `UPDATE booking SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+bookingCols, id, string(from), string(to)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStatusChanged
	}
	return b, storeErr("update booking status", err)
}

type dayTxPG struct {
	tx         pgx.Tx
	providerID uuid.UUID
	date       civil.Date
}

func (d *dayTxPG) ListActive(ctx context.Context) ([]*Booking, error) {
	return listActive(ctx, d.tx, d.providerID, d.date)
}

func (d *dayTxPG) Insert(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	var typeCode *string
	if b.AppointmentType != "" {
		typeCode = &b.AppointmentType
	}
	err := d.tx.QueryRow(ctx, `
		INSERT INTO booking (id, provider_id, patient_id, appointment_type_code, booking_date,
			start_minute, end_minute, duration_minutes, status, notes, request_token)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		b.ID, d.providerID, b.PatientID, typeCode, dateArg(d.date),
		b.startMinute(), b.endMinute(), b.DurationMinutes, string(b.Status), b.Notes, b.RequestToken,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, requestTokenConstraint):
		return ErrDuplicateRequestToken
	case db.IsExclusionViolation(err):
		return &ConflictError{
			ProviderID: d.providerID, Date: d.date,
			StartTime: b.StartTime, EndTime: b.EndTime,
		}
	}
	return storeErr("insert booking", err)
}

// =========== Appointment Type Repository ===========

type appointmentTypeRepoPG struct{ db queryable }

func NewAppointmentTypeRepoPG(pool *pgxpool.Pool) AppointmentTypeRepository {
	return &appointmentTypeRepoPG{db: pool}
}

const apptTypeCols = `code, name, duration_minutes, active`

func scanAppointmentType(row pgx.Row) (*AppointmentType, error) {
	var t AppointmentType
	err := row.Scan(&t.Code, &t.Name, &t.DurationMinutes, &t.Active)
	return &t, err
}

func (r *appointmentTypeRepoPG) List(ctx context.Context) ([]*AppointmentType, error) {
	rows, err := r.db.Query(ctx, `SELECT `+apptTypeCols+` FROM appointment_type WHERE active ORDER BY name`)
	if err != nil {
		return nil, storeErr("list appointment types", err)
	}
	defer rows.Close()
	var items []*AppointmentType
	for rows.Next() {
		t, err := scanAppointmentType(rows)
		if err != nil {
			return nil, storeErr("scan appointment type", err)
		}
		items = append(items, t)
	}
	return items, storeErr("list appointment types", rows.Err())
}

func (r *appointmentTypeRepoPG) GetByCode(ctx context.Context, code string) (*AppointmentType, error) {
	t, err := scanAppointmentType(r.db.QueryRow(ctx, `SELECT `+apptTypeCols+` FROM appointment_type WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentTypeNotFound
	}
	if err != nil {
		return nil, storeErr("get appointment type", err)
	}
	return t, nil
}
