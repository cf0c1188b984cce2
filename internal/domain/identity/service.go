package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const maxPageSize = 100

type Service struct {
	patients  PatientRepository
	providers ProviderRepository
}

func NewService(patients PatientRepository, providers ProviderRepository) *Service {
	return &Service{patients: patients, providers: providers}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.Active = true
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) DeactivatePatient(ctx context.Context, id uuid.UUID) error {
	return s.patients.Deactivate(ctx, id)
}

func (s *Service) SearchPatients(ctx context.Context, q PatientSearch, limit, offset int) ([]*Patient, int, error) {
	limit, offset = clampPage(limit, offset)
	return s.patients.Search(ctx, q, limit, offset)
}

// -- Provider --

func (s *Service) CreateProvider(ctx context.Context, p *Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.Active = true
	return s.providers.Create(ctx, p)
}

func (s *Service) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return s.providers.GetByID(ctx, id)
}

func (s *Service) UpdateProvider(ctx context.Context, p *Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.providers.Update(ctx, p)
}

func (s *Service) DeactivateProvider(ctx context.Context, id uuid.UUID) error {
	return s.providers.Deactivate(ctx, id)
}

func (s *Service) ListProviders(ctx context.Context, f ProviderFilter, limit, offset int) ([]*Provider, int, error) {
	limit, offset = clampPage(limit, offset)
	return s.providers.List(ctx, f, limit, offset)
}

// -- Booking directory --

// ProviderExists reports whether id is an active, bookable provider.
func (s *Service) ProviderExists(ctx context.Context, id uuid.UUID) (bool, error) {
	p, err := s.providers.GetByID(ctx, id)
	if errors.Is(err, ErrProviderNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.CanBeBooked(), nil
}

// PatientExists reports whether id is an active patient.
func (s *Service) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.patients.Exists(ctx, id)
}
