package clinical

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

var dialect = goqu.Dialect("postgres")

type noteRepoPG struct {
	db queryable
}

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository {
	return &noteRepoPG{db: pool}
}

const noteCols = `id, patient_id, provider_id, booking_id, amends_id, kind, tooth, body, author_id, created_at`

var noteColumns = []interface{}{
	"id", "patient_id", "provider_id", "booking_id", "amends_id", "kind", "tooth", "body", "author_id", "created_at",
}

func scanNote(row pgx.Row) (*Note, error) {
	var (
		n    Note
		kind string
	)
	err := row.Scan(&n.ID, &n.PatientID, &n.ProviderID, &n.BookingID, &n.Amends,
		&kind, &n.Tooth, &n.Body, &n.AuthorID, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.Kind = Kind(kind)
	return &n, nil
}

func (r *noteRepoPG) Create(ctx context.Context, n *Note) error {
	n.ID = uuid.New()
	err := r.db.QueryRow(ctx, `
		INSERT INTO clinical_note (id, patient_id, provider_id, booking_id, amends_id, kind, tooth, body, author_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		n.ID, n.PatientID, n.ProviderID, n.BookingID, n.Amends, string(n.Kind), n.Tooth, n.Body, n.AuthorID,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (r *noteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Note, error) {
	n, err := scanNote(r.db.QueryRow(ctx, `SELECT `+noteCols+` FROM clinical_note WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

// ListByPatient returns the newest notes first.
func (r *noteRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, f NoteFilter, limit, offset int) ([]*Note, int, error) {
	ex := goqu.Ex{"patient_id": patientID.String()}
	if f.Kind != nil {
		ex["kind"] = string(*f.Kind)
	}
	if f.BookingID != nil {
		ex["booking_id"] = f.BookingID.String()
	}
	base := dialect.From("clinical_note").Prepared(true).Where(ex)

	countSQL, countArgs, err := base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build note count: %w", err)
	}
	var total int
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notes: %w", err)
	}

	dataSQL, dataArgs, err := base.Select(noteColumns...).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(limit)).
		Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build note list: %w", err)
	}
	rows, err := r.db.Query(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		notes = append(notes, n)
	}
	return notes, total, rows.Err()
}
