package opportunity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service drives the human approval workflow over the ledger.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Opportunity, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPharmacy(ctx context.Context, pharmacyID uuid.UUID) ([]*Opportunity, error) {
	return s.repo.ListByPharmacy(ctx, pharmacyID)
}

// Transition moves an opportunity along the state machine, optionally
// recording a note. Regressions and unknown statuses are rejected.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, next Status, note string) (*Opportunity, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("unknown status: %s", next)
	}
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Status.CanTransition(next) {
		return nil, fmt.Errorf("cannot transition opportunity from %s to %s", o.Status, next)
	}
	if err := s.repo.UpdateStatus(ctx, id, next); err != nil {
		return nil, err
	}
	if note != "" {
		if err := s.repo.AppendNote(ctx, id, note); err != nil {
			return nil, err
		}
	}
	o.Status = next
	return o, nil
}

func (s *Service) Annotate(ctx context.Context, id uuid.UUID, note string) error {
	if note == "" {
		return fmt.Errorf("note must not be empty")
	}
	return s.repo.AppendNote(ctx, id, note)
}

// Discard removes an opportunity that has not been submitted. Anything past
// Not Submitted is permanent.
func (s *Service) Discard(ctx context.Context, id uuid.UUID) error {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != StatusNotSubmitted {
		return fmt.Errorf("opportunity in status %q is permanent", o.Status)
	}
	return s.repo.Delete(ctx, id)
}
