package trigger

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists triggers and their payer overrides. List loads
// overrides alongside the triggers so a scan run needs exactly one bulk read.
type Repository interface {
	Create(ctx context.Context, t *Trigger) error
	GetByID(ctx context.Context, id uuid.UUID) (*Trigger, error)
	Update(ctx context.Context, t *Trigger) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, enabledOnly bool) ([]*Trigger, error)

	UpsertOverride(ctx context.Context, o *PayerOverride) error
	DeleteOverride(ctx context.Context, id uuid.UUID) error
	ListOverrides(ctx context.Context, triggerID uuid.UUID) ([]*PayerOverride, error)
}
