package identity

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

var (
	ErrPatientNotFound  = errors.New("patient not found")
	ErrProviderNotFound = errors.New("provider not found")
	ErrInvalid          = errors.New("invalid input")
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Patient maps to the patient table.
type Patient struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	FirstName string      `db:"first_name" json:"first_name"`
	LastName  string      `db:"last_name" json:"last_name"`
	BirthDate *civil.Date `db:"birth_date" json:"birth_date,omitempty"`
	Phone     *string     `db:"phone" json:"phone,omitempty"`
	Email     *string     `db:"email" json:"email,omitempty"`
	Active    bool        `db:"active" json:"active"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

func (p *Patient) Validate() error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" || p.LastName == "" {
		return invalidf("first_name and last_name are required")
	}
	if p.BirthDate != nil && p.BirthDate.After(civil.DateOf(time.Now())) {
		return invalidf("birth_date cannot be in the future")
	}
	return validateEmail(p.Email)
}

// Role is a staff member's function in the clinic.
type Role string

const (
	RoleDentist      Role = "dentist"
	RoleHygienist    Role = "hygienist"
	RoleAssistant    Role = "assistant"
	RoleReceptionist Role = "receptionist"
	RoleAdmin        Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDentist, RoleHygienist, RoleAssistant, RoleReceptionist, RoleAdmin:
		return true
	}
	return false
}

// Clinical roles are the ones patients can be booked with.
func (r Role) Clinical() bool {
	return r == RoleDentist || r == RoleHygienist
}

// Provider maps to the provider table: clinic staff, bookable or not.
type Provider struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	Role      Role      `db:"role" json:"role"`
	Bookable  bool      `db:"bookable" json:"bookable"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (p *Provider) Validate() error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" || p.LastName == "" {
		return invalidf("first_name and last_name are required")
	}
	if !p.Role.Valid() {
		return invalidf("role must be one of dentist, hygienist, assistant, receptionist, admin")
	}
	if p.Bookable && !p.Role.Clinical() {
		return invalidf("only dentists and hygienists can be bookable")
	}
	return validateEmail(p.Email)
}

// CanBeBooked reports whether appointments may be placed on this provider's
// calendar.
func (p *Provider) CanBeBooked() bool {
	return p.Active && p.Bookable
}

func (p *Provider) DisplayName() string {
	if p.Role == RoleDentist {
		return "Dr. " + p.LastName
	}
	return p.FirstName + " " + p.LastName
}

func validateEmail(email *string) error {
	if email == nil || *email == "" {
		return nil
	}
	if _, err := mail.ParseAddress(*email); err != nil {
		return invalidf("email is not a valid address")
	}
	return nil
}

// PatientSearch filters the patient list. Empty fields are ignored.
type PatientSearch struct {
	Name       string
	Phone      string
	BirthDate  *civil.Date
	ActiveOnly bool
}

// ProviderFilter filters the provider list. Nil fields are ignored.
type ProviderFilter struct {
	Role     *Role
	Bookable *bool
	Active   *bool
}
