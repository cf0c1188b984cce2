package clinical

import (
	"context"

	"github.com/google/uuid"
)

// NoteRepository stores chart notes. There is no update or delete.
type NoteRepository interface {
	Create(ctx context.Context, n *Note) error
	GetByID(ctx context.Context, id uuid.UUID) (*Note, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, f NoteFilter, limit, offset int) ([]*Note, int, error)
}
