package membership

import (
	"context"
	"time"

	"github.com/openctemio/groups/pkg/domain/group"
	"github.com/openctemio/groups/pkg/domain/shared"
)

// Repository is the membership store contract.
//
// Insert rejects a second row with the same (user, group, kind) with
// shared.ErrConflict. Delete of an absent row is not an error.
type Repository interface {
	Get(ctx context.Context, userID, groupID shared.ID, kind Kind) (*Membership, error)
	GetByID(ctx context.Context, id shared.ID) (*Membership, error)
	GetByIDs(ctx context.Context, ids []shared.ID) ([]*Membership, error)
	ListForPair(ctx context.Context, userID, groupID shared.ID) ([]*Membership, error)
	Insert(ctx context.Context, m *Membership) error
	Update(ctx context.Context, m *Membership) error
	Delete(ctx context.Context, id shared.ID) error
	DeleteByGroup(ctx context.Context, groupID shared.ID) (int64, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)

	// CreateGroupTx atomically creates the group and its creator's row.
	CreateGroupTx(ctx context.Context, g *group.Group, creator *Membership) error

	// WithinTx runs fn against a repository bound to a single transaction.
	// Nothing fn wrote is kept when it returns an error.
	WithinTx(ctx context.Context, fn func(tx Repository) error) error
}

// Order selects the sort order of a listing.
type Order string

const (
	OrderDateModifiedDesc Order = "date_modified_desc"
	OrderDateModifiedAsc  Order = "date_modified_asc"
	OrderGroupName        Order = "group_name"
)

// Filter narrows a listing. Zero-valued fields do not filter.
type Filter struct {
	GroupID   *shared.ID
	UserID    *shared.ID
	InviterID *shared.ID
	Kinds     []Kind
	Roles     []Role
	Banned    *bool

	// Search matches a case-insensitive substring of the group name.
	Search string

	ExcludeGroupIDs []shared.ID
	ExcludeUserIDs  []shared.ID

	// ModifiedBefore keeps rows whose date_modified is strictly earlier.
	ModifiedBefore *time.Time

	OrderBy Order
	Offset  int
	Limit   int
}

// ListResult holds a page of rows and the total before pagination.
type ListResult struct {
	Memberships []*Membership
	Total       int64
}

// Bool returns a pointer to b, for Filter.Banned.
func Bool(b bool) *bool { return &b }

// IDRef returns a pointer to id, for Filter id fields.
func IDRef(id shared.ID) *shared.ID { return &id }
