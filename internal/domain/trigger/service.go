package trigger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// UsageChecker reports how many opportunities reference a trigger. Implemented
// by the opportunity repository; declared here to avoid a package cycle.
type UsageChecker interface {
	CountByTrigger(ctx context.Context, triggerID uuid.UUID) (int, error)
}

// Service validates and persists trigger configuration. Triggers referenced
// by live opportunities are retired, never deleted.
type Service struct {
	repo  Repository
	usage UsageChecker
}

func NewService(repo Repository, usage UsageChecker) *Service {
	return &Service{repo: repo, usage: usage}
}

var validTypes = map[Type]bool{
	TypeStandard: true, TypeConditional: true, TypeCombo: true,
}

var validMatchModes = map[MatchMode]bool{
	MatchAny: true, MatchAll: true,
}

var validCoverage = map[CoverageStatus]bool{
	CoverageCovered: true, CoverageExcluded: true, CoverageUnknown: true,
}

func (s *Service) validate(t *Trigger) error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.RecommendedDrug == "" {
		return fmt.Errorf("recommended_drug is required")
	}
	if t.Type == "" {
		t.Type = TypeStandard
	}
	if !validTypes[t.Type] {
		return fmt.Errorf("invalid trigger_type: %s", t.Type)
	}
	if t.MatchMode == "" {
		t.MatchMode = MatchAny
	}
	if !validMatchModes[t.MatchMode] {
		return fmt.Errorf("invalid match_mode: %s", t.MatchMode)
	}
	if t.AnnualFills == 0 {
		t.AnnualFills = 12
	}
	if t.AnnualFills < 0 {
		return fmt.Errorf("annual_fills must be positive")
	}
	if t.DefaultGP < 0 {
		return fmt.Errorf("default_gp must not be negative")
	}
	// Compiling surfaces keyword and membership-rule problems before the
	// trigger ever reaches a scan.
	if _, err := Compile(t); err != nil {
		return err
	}
	return nil
}

func (s *Service) Create(ctx context.Context, t *Trigger) error {
	if err := s.validate(t); err != nil {
		return err
	}
	return s.repo.Create(ctx, t)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Trigger, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, t *Trigger) error {
	if err := s.validate(t); err != nil {
		return err
	}
	return s.repo.Update(ctx, t)
}

func (s *Service) List(ctx context.Context, enabledOnly bool) ([]*Trigger, error) {
	return s.repo.List(ctx, enabledOnly)
}

// Retire disables a trigger without touching its opportunity history.
func (s *Service) Retire(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetEnabled(ctx, id, false)
}

// Delete removes a trigger only when no opportunity references it; otherwise
// the caller must Retire instead.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := s.usage.CountByTrigger(ctx, id)
	if err != nil {
		return fmt.Errorf("check trigger usage: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("trigger %s is referenced by %d opportunities; retire it instead", id, n)
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) UpsertOverride(ctx context.Context, o *PayerOverride) error {
	if o.TriggerID == uuid.Nil {
		return fmt.Errorf("trigger_id is required")
	}
	if o.BIN == "" {
		return fmt.Errorf("bin is required")
	}
	if o.Coverage == "" {
		o.Coverage = CoverageUnknown
	}
	if !validCoverage[o.Coverage] {
		return fmt.Errorf("invalid coverage status: %s", o.Coverage)
	}
	return s.repo.UpsertOverride(ctx, o)
}

func (s *Service) DeleteOverride(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteOverride(ctx, id)
}
