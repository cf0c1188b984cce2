package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// dialect builds the dynamic list and search queries. Prepared mode keeps
// every value a bind parameter.
var dialect = goqu.Dialect("postgres")

// -- Patient Repository --

type patientRepoPG struct {
	db querier
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{db: pool}
}

var patientColumns = []interface{}{
	"id", "first_name", "last_name", "birth_date", "phone", "email", "active", "created_at", "updated_at",
}

const patientCols = `id, first_name, last_name, birth_date, phone, email, active, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p     Patient
		birth *time.Time
	)
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &birth, &p.Phone, &p.Email,
		&p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if birth != nil {
		d := civil.DateOf(*birth)
		p.BirthDate = &d
	}
	return &p, nil
}

// dateArg binds an optional civil date as a DATE parameter.
func dateArg(d *civil.Date) interface{} {
	if d == nil {
		return nil
	}
	return d.In(time.UTC)
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.db.QueryRow(ctx, `
		INSERT INTO patient (id, first_name, last_name, birth_date, phone, email, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, dateArg(p.BirthDate), p.Phone, p.Email, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.db.QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.db.QueryRow(ctx, `
		UPDATE patient SET
			first_name = $2, last_name = $3, birth_date = $4, phone = $5, email = $6,
			active = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, dateArg(p.BirthDate), p.Phone, p.Email, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPatientNotFound
	}
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE patient SET active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *patientRepoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patient WHERE id = $1 AND active)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("patient exists: %w", err)
	}
	return ok, nil
}

func patientFilter(q PatientSearch) []goqu.Expression {
	var where []goqu.Expression
	if q.Name != "" {
		like := "%" + q.Name + "%"
		where = append(where, goqu.Or(
			goqu.C("first_name").ILike(like),
			goqu.C("last_name").ILike(like),
		))
	}
	if q.Phone != "" {
		where = append(where, goqu.C("phone").Eq(q.Phone))
	}
	if q.BirthDate != nil {
		where = append(where, goqu.C("birth_date").Eq(q.BirthDate.String()))
	}
	if q.ActiveOnly {
		where = append(where, goqu.C("active").IsTrue())
	}
	return where
}

func (r *patientRepoPG) Search(ctx context.Context, q PatientSearch, limit, offset int) ([]*Patient, int, error) {
	base := dialect.From("patient").Prepared(true).Where(patientFilter(q)...)

	countSQL, countArgs, err := base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build patient count: %w", err)
	}
	var total int
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	dataSQL, dataArgs, err := base.Select(patientColumns...).
		Order(goqu.C("last_name").Asc(), goqu.C("first_name").Asc(), goqu.C("id").Asc()).
		Limit(uint(limit)).
		Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build patient search: %w", err)
	}
	rows, err := r.db.Query(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

// -- Provider Repository --

type providerRepoPG struct {
	db querier
}

func NewProviderRepo(pool *pgxpool.Pool) ProviderRepository {
	return &providerRepoPG{db: pool}
}

var providerColumns = []interface{}{
	"id", "first_name", "last_name", "role", "bookable", "phone", "email", "active", "created_at", "updated_at",
}

const providerCols = `id, first_name, last_name, role, bookable, phone, email, active, created_at, updated_at`

func scanProvider(row pgx.Row) (*Provider, error) {
	var (
		p    Provider
		role string
	)
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &role, &p.Bookable, &p.Phone, &p.Email,
		&p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Role = Role(role)
	return &p, nil
}

func (r *providerRepoPG) Create(ctx context.Context, p *Provider) error {
	p.ID = uuid.New()
	err := r.db.QueryRow(ctx, `
		INSERT INTO provider (id, first_name, last_name, role, bookable, phone, email, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, string(p.Role), p.Bookable, p.Phone, p.Email, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert provider: %w", err)
	}
	return nil
}

func (r *providerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := scanProvider(r.db.QueryRow(ctx, `SELECT `+providerCols+` FROM provider WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return p, nil
}

func (r *providerRepoPG) Update(ctx context.Context, p *Provider) error {
	err := r.db.QueryRow(ctx, `
		UPDATE provider SET
			first_name = $2, last_name = $3, role = $4, bookable = $5, phone = $6, email = $7,
			active = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, string(p.Role), p.Bookable, p.Phone, p.Email, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrProviderNotFound
	}
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	return nil
}

func (r *providerRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE provider SET active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProviderNotFound
	}
	return nil
}

func (r *providerRepoPG) List(ctx context.Context, f ProviderFilter, limit, offset int) ([]*Provider, int, error) {
	ex := goqu.Ex{}
	if f.Role != nil {
		ex["role"] = string(*f.Role)
	}
	if f.Bookable != nil {
		ex["bookable"] = *f.Bookable
	}
	if f.Active != nil {
		ex["active"] = *f.Active
	}
	base := dialect.From("provider").Prepared(true).Where(ex)

	countSQL, countArgs, err := base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build provider count: %w", err)
	}
	var total int
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count providers: %w", err)
	}

	dataSQL, dataArgs, err := base.Select(providerColumns...).
		Order(goqu.C("last_name").Asc(), goqu.C("first_name").Asc(), goqu.C("id").Asc()).
		Limit(uint(limit)).
		Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build provider list: %w", err)
	}
	rows, err := r.db.Query(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var providers []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, 0, err
		}
		providers = append(providers, p)
	}
	return providers, total, rows.Err()
}
