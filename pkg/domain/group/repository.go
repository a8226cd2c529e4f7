package group

import (
	"context"

	"github.com/openctemio/groups/pkg/domain/shared"
)

// Repository defines the interface for group persistence. It doubles as the
// group configuration provider read by the membership evaluator.
type Repository interface {
	Create(ctx context.Context, g *Group) error
	GetByID(ctx context.Context, id shared.ID) (*Group, error)
	GetBySlug(ctx context.Context, slug string) (*Group, error)
	Update(ctx context.Context, g *Group) error
	Delete(ctx context.Context, id shared.ID) error
	List(ctx context.Context, filter Filter) ([]*Group, int, error)
}

// Filter narrows a group listing.
type Filter struct {
	Search string
	Limit  int
	Offset int
}
