package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/openctemio/groups/pkg/domain/group"
	"github.com/openctemio/groups/pkg/domain/shared"
)

// GroupRepository is an in-memory group.Repository.
type GroupRepository struct {
	mu     sync.RWMutex
	groups map[shared.ID]group.Group
}

var _ group.Repository = (*GroupRepository)(nil)

// NewGroupRepository creates an empty GroupRepository.
func NewGroupRepository() *GroupRepository {
	return &GroupRepository{groups: make(map[shared.ID]group.Group)}
}

// Create stores a new group. Slugs are unique.
func (r *GroupRepository) Create(_ context.Context, g *group.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[g.ID()]; ok {
		return shared.ConflictError("group already exists")
	}
	for _, existing := range r.groups {
		if existing.Slug() == g.Slug() {
			return shared.ConflictError("group slug already exists")
		}
	}
	r.groups[g.ID()] = *g
	return nil
}

// GetByID returns a group by id.
func (r *GroupRepository) GetByID(_ context.Context, id shared.ID) (*group.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, shared.NotFoundError("group not found")
	}
	return &g, nil
}

// GetBySlug returns a group by slug.
func (r *GroupRepository) GetBySlug(_ context.Context, slug string) (*group.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.groups {
		if g.Slug() == slug {
			return &g, nil
		}
	}
	return nil, shared.NotFoundError("group not found")
}

// Update replaces a stored group.
func (r *GroupRepository) Update(_ context.Context, g *group.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[g.ID()]; !ok {
		return shared.NotFoundError("group not found")
	}
	r.groups[g.ID()] = *g
	return nil
}

// Delete removes a group. Deleting an absent group is a no-op.
func (r *GroupRepository) Delete(_ context.Context, id shared.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, id)
	return nil
}

// List returns groups ordered by name.
func (r *GroupRepository) List(_ context.Context, filter group.Filter) ([]*group.Group, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(filter.Search))
	out := make([]*group.Group, 0, len(r.groups))
	for _, g := range r.groups {
		if needle != "" && !strings.Contains(fold.String(g.Name()), needle) {
			continue
		}
		g := g
		out = append(out, &g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].ID().Compare(out[j].ID()) < 0
	})

	total := len(out)
	return page(out, filter.Offset, filter.Limit), total, nil
}

// name returns the group name, or "" when the group is unknown.
func (r *GroupRepository) name(id shared.ID) string {
	if r == nil {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return ""
	}
	return g.Name()
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
