package identity

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	// Deactivate marks the patient inactive. Patients are never hard
	// deleted since bookings and notes reference them.
	Deactivate(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, q PatientSearch, limit, offset int) ([]*Patient, int, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type ProviderRepository interface {
	Create(ctx context.Context, p *Provider) error
	GetByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	Update(ctx context.Context, p *Provider) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ProviderFilter, limit, offset int) ([]*Provider, int, error)
}
