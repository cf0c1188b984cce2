package clinical

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoteNotFound    = errors.New("note not found")
	ErrPatientNotFound = errors.New("patient not found")
	ErrInvalid         = errors.New("invalid note")
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// maxBodyLen bounds a single note in characters.
const maxBodyLen = 20000

// Kind classifies a note in the patient chart.
type Kind string

const (
	KindProgress      Kind = "progress"
	KindTreatmentPlan Kind = "treatment-plan"
	KindPerio         Kind = "perio"
	KindAlert         Kind = "alert"
)

func (k Kind) Valid() bool {
	switch k {
	case KindProgress, KindTreatmentPlan, KindPerio, KindAlert:
		return true
	}
	return false
}

// Note is an append-only chart entry. Corrections are written as a new note
// whose Amends points at the one it replaces.
type Note struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	PatientID  uuid.UUID  `db:"patient_id" json:"patient_id"`
	ProviderID uuid.UUID  `db:"provider_id" json:"provider_id"`
	BookingID  *uuid.UUID `db:"booking_id" json:"booking_id,omitempty"`
	Amends     *uuid.UUID `db:"amends_id" json:"amends_id,omitempty"`
	Kind       Kind       `db:"kind" json:"kind"`
	Tooth      *string    `db:"tooth" json:"tooth,omitempty"`
	Body       string     `db:"body" json:"body"`
	AuthorID   string     `db:"author_id" json:"author_id"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Validate normalizes the note in place.
func (n *Note) Validate() error {
	if n.PatientID == uuid.Nil {
		return invalidf("patient_id is required")
	}
	if n.ProviderID == uuid.Nil {
		return invalidf("provider_id is required")
	}
	if n.Kind == "" {
		n.Kind = KindProgress
	}
	if !n.Kind.Valid() {
		return invalidf("kind must be one of progress, treatment-plan, perio, alert")
	}
	n.Body = strings.TrimSpace(n.Body)
	if n.Body == "" {
		return invalidf("body is required")
	}
	if len([]rune(n.Body)) > maxBodyLen {
		return invalidf("body exceeds %d characters", maxBodyLen)
	}
	if n.Tooth != nil {
		t := strings.ToUpper(strings.TrimSpace(*n.Tooth))
		if !ValidTooth(t) {
			return invalidf("tooth %q is not a universal tooth number", *n.Tooth)
		}
		n.Tooth = &t
	}
	return nil
}

// ValidTooth accepts universal numbering: 1-32 for permanent teeth and
// A-T for primary teeth.
func ValidTooth(s string) bool {
	if len(s) == 1 && s[0] >= 'A' && s[0] <= 'T' {
		return true
	}
	n, err := strconv.Atoi(s)
	return err == nil && n >= 1 && n <= 32 && strconv.Itoa(n) == s
}

// NoteFilter narrows a patient's chart listing. Nil fields are ignored.
type NoteFilter struct {
	Kind      *Kind
	BookingID *uuid.UUID
}
