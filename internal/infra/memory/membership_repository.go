package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/openctemio/groups/pkg/domain/group"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
)

// MembershipRepository is an in-memory membership.Repository.
//
// Writers, transactional or not, are serialized by writeMu. A transaction
// stages its writes on a copy of the table and swaps it in on success.
type MembershipRepository struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	rows    table
	groups  *GroupRepository
}

var _ membership.Repository = (*MembershipRepository)(nil)

// NewMembershipRepository creates an empty repository. groups resolves group
// names for search and name ordering; it may be nil.
func NewMembershipRepository(groups *GroupRepository) *MembershipRepository {
	return &MembershipRepository{
		rows:   make(table),
		groups: groups,
	}
}

func (r *MembershipRepository) read() table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rows
}

func (r *MembershipRepository) write(fn func(t table) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	staged := r.read().clone()
	if err := fn(staged); err != nil {
		return err
	}
	r.mu.Lock()
	r.rows = staged
	r.mu.Unlock()
	return nil
}

// Get returns the row of the given kind for a pair.
func (r *MembershipRepository) Get(_ context.Context, userID, groupID shared.ID, kind membership.Kind) (*membership.Membership, error) {
	return r.read().get(userID, groupID, kind)
}

// GetByID returns a row by id.
func (r *MembershipRepository) GetByID(_ context.Context, id shared.ID) (*membership.Membership, error) {
	return r.read().getByID(id)
}

// GetByIDs returns the rows that exist among ids, in the order given.
func (r *MembershipRepository) GetByIDs(_ context.Context, ids []shared.ID) ([]*membership.Membership, error) {
	return r.read().getByIDs(ids), nil
}

// ListForPair returns every row of a pair, confirmed row first.
func (r *MembershipRepository) ListForPair(_ context.Context, userID, groupID shared.ID) ([]*membership.Membership, error) {
	return r.read().pair(userID, groupID), nil
}

// Insert stores a new row.
func (r *MembershipRepository) Insert(_ context.Context, m *membership.Membership) error {
	return r.write(func(t table) error { return t.insert(m) })
}

// Update replaces a stored row.
func (r *MembershipRepository) Update(_ context.Context, m *membership.Membership) error {
	return r.write(func(t table) error { return t.update(m) })
}

// Delete removes a row. Deleting an absent row is a no-op.
func (r *MembershipRepository) Delete(_ context.Context, id shared.ID) error {
	return r.write(func(t table) error {
		delete(t, id)
		return nil
	})
}

// DeleteByGroup removes every row of a group.
func (r *MembershipRepository) DeleteByGroup(_ context.Context, groupID shared.ID) (int64, error) {
	var n int64
	err := r.write(func(t table) error {
		n = t.deleteByGroup(groupID)
		return nil
	})
	return n, err
}

// List returns the rows matching filter.
func (r *MembershipRepository) List(_ context.Context, filter membership.Filter) (*membership.ListResult, error) {
	return r.read().list(filter, r.groups.name), nil
}

// CreateGroupTx stages the creator's row and stores the group; the row is
// only kept when the group was created.
func (r *MembershipRepository) CreateGroupTx(ctx context.Context, g *group.Group, creator *membership.Membership) error {
	return r.write(func(t table) error {
		return createGroup(ctx, r.groups, t, g, creator)
	})
}

// WithinTx runs fn against a staged copy of the table.
func (r *MembershipRepository) WithinTx(ctx context.Context, fn func(tx membership.Repository) error) error {
	return r.write(func(t table) error {
		return fn(&txRepository{rows: t, groups: r.groups})
	})
}

// txRepository operates on a staged table. The parent's writeMu is held for
// its whole lifetime.
type txRepository struct {
	rows   table
	groups *GroupRepository
}

func (tx *txRepository) Get(_ context.Context, userID, groupID shared.ID, kind membership.Kind) (*membership.Membership, error) {
	return tx.rows.get(userID, groupID, kind)
}

func (tx *txRepository) GetByID(_ context.Context, id shared.ID) (*membership.Membership, error) {
	return tx.rows.getByID(id)
}

func (tx *txRepository) GetByIDs(_ context.Context, ids []shared.ID) ([]*membership.Membership, error) {
	return tx.rows.getByIDs(ids), nil
}

func (tx *txRepository) ListForPair(_ context.Context, userID, groupID shared.ID) ([]*membership.Membership, error) {
	return tx.rows.pair(userID, groupID), nil
}

func (tx *txRepository) Insert(_ context.Context, m *membership.Membership) error {
	return tx.rows.insert(m)
}

func (tx *txRepository) Update(_ context.Context, m *membership.Membership) error {
	return tx.rows.update(m)
}

func (tx *txRepository) Delete(_ context.Context, id shared.ID) error {
	delete(tx.rows, id)
	return nil
}

func (tx *txRepository) DeleteByGroup(_ context.Context, groupID shared.ID) (int64, error) {
	return tx.rows.deleteByGroup(groupID), nil
}

func (tx *txRepository) List(_ context.Context, filter membership.Filter) (*membership.ListResult, error) {
	return tx.rows.list(filter, tx.groups.name), nil
}

// CreateGroupTx stages the creator's row on the running transaction. The
// group itself is stored immediately.
func (tx *txRepository) CreateGroupTx(ctx context.Context, g *group.Group, creator *membership.Membership) error {
	return createGroup(ctx, tx.groups, tx.rows, g, creator)
}

// WithinTx joins the running transaction.
func (tx *txRepository) WithinTx(_ context.Context, fn func(tx membership.Repository) error) error {
	return fn(tx)
}

func createGroup(ctx context.Context, groups *GroupRepository, t table, g *group.Group, creator *membership.Membership) error {
	if groups == nil {
		return errors.New("memory: membership repository has no group repository")
	}
	if creator.GroupID() != g.ID() {
		return shared.InvalidArgumentError("creator row belongs to another group")
	}
	if err := t.insert(creator); err != nil {
		return err
	}
	return groups.Create(ctx, g)
}

// table maps row ids to stored copies. Callers always receive copies so that
// entity mutations only land through Update.
type table map[shared.ID]*membership.Membership

func copyOf(m *membership.Membership) *membership.Membership {
	c := *m
	return &c
}

func (t table) clone() table {
	out := make(table, len(t))
	for id, m := range t {
		out[id] = m
	}
	return out
}

func (t table) find(userID, groupID shared.ID, kind membership.Kind) *membership.Membership {
	for _, m := range t {
		if m.Kind() == kind && m.UserID().Equals(userID) && m.GroupID().Equals(groupID) {
			return m
		}
	}
	return nil
}

func (t table) get(userID, groupID shared.ID, kind membership.Kind) (*membership.Membership, error) {
	if !kind.IsValid() {
		return nil, shared.InvalidArgumentError("invalid membership kind")
	}
	for _, k := range kind.Candidates() {
		if m := t.find(userID, groupID, k); m != nil {
			return copyOf(m), nil
		}
	}
	return nil, shared.NotFoundError("membership not found")
}

func (t table) getByID(id shared.ID) (*membership.Membership, error) {
	m, ok := t[id]
	if !ok {
		return nil, shared.NotFoundError("membership not found")
	}
	return copyOf(m), nil
}

func (t table) getByIDs(ids []shared.ID) []*membership.Membership {
	out := make([]*membership.Membership, 0, len(ids))
	for _, id := range ids {
		if m, ok := t[id]; ok {
			out = append(out, copyOf(m))
		}
	}
	return out
}

func (t table) pair(userID, groupID shared.ID) []*membership.Membership {
	out := make([]*membership.Membership, 0, len(membership.Variants))
	for _, k := range membership.Variants {
		if m := t.find(userID, groupID, k); m != nil {
			out = append(out, copyOf(m))
		}
	}
	return out
}

func (t table) insert(m *membership.Membership) error {
	if !m.Kind().IsVariant() {
		return shared.InvalidArgumentError("invalid membership kind")
	}
	if _, ok := t[m.ID()]; ok {
		return shared.ConflictError("membership id already exists")
	}
	if t.find(m.UserID(), m.GroupID(), m.Kind()) != nil {
		return shared.ConflictError("membership of this kind already exists for pair")
	}
	t[m.ID()] = copyOf(m)
	return nil
}

func (t table) update(m *membership.Membership) error {
	if _, ok := t[m.ID()]; !ok {
		return shared.NotFoundError("membership not found")
	}
	if other := t.find(m.UserID(), m.GroupID(), m.Kind()); other != nil && !other.ID().Equals(m.ID()) {
		return shared.ConflictError("membership of this kind already exists for pair")
	}
	t[m.ID()] = copyOf(m)
	return nil
}

func (t table) deleteByGroup(groupID shared.ID) int64 {
	var n int64
	for id, m := range t {
		if m.GroupID().Equals(groupID) {
			delete(t, id)
			n++
		}
	}
	return n
}

func (t table) list(f membership.Filter, groupName func(shared.ID) string) *membership.ListResult {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(f.Search))

	matched := make([]*membership.Membership, 0)
	for _, m := range t {
		if !matches(m, f) {
			continue
		}
		if needle != "" && !strings.Contains(fold.String(groupName(m.GroupID())), needle) {
			continue
		}
		matched = append(matched, m)
	}

	sortRows(matched, f.OrderBy, groupName)

	total := int64(len(matched))
	paged := page(matched, f.Offset, f.Limit)
	out := make([]*membership.Membership, 0, len(paged))
	for _, m := range paged {
		out = append(out, copyOf(m))
	}
	return &membership.ListResult{Memberships: out, Total: total}
}

func matches(m *membership.Membership, f membership.Filter) bool {
	if f.GroupID != nil && !m.GroupID().Equals(*f.GroupID) {
		return false
	}
	if f.UserID != nil && !m.UserID().Equals(*f.UserID) {
		return false
	}
	if f.InviterID != nil && !m.InviterID().Equals(*f.InviterID) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, m.Kind()) {
		return false
	}
	if len(f.Roles) > 0 && !slices.Contains(f.Roles, m.Role()) {
		return false
	}
	if f.Banned != nil && m.IsBanned() != *f.Banned {
		return false
	}
	if f.ModifiedBefore != nil && !m.DateModified().Before(*f.ModifiedBefore) {
		return false
	}
	if shared.ContainsID(f.ExcludeGroupIDs, m.GroupID()) || shared.ContainsID(f.ExcludeUserIDs, m.UserID()) {
		return false
	}
	return true
}

func sortRows(rows []*membership.Membership, order membership.Order, groupName func(shared.ID) string) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch order {
		case membership.OrderGroupName:
			an, bn := strings.ToLower(groupName(a.GroupID())), strings.ToLower(groupName(b.GroupID()))
			if an != bn {
				return an < bn
			}
		case membership.OrderDateModifiedAsc:
			if !a.DateModified().Equal(b.DateModified()) {
				return a.DateModified().Before(b.DateModified())
			}
		default:
			if !a.DateModified().Equal(b.DateModified()) {
				return a.DateModified().After(b.DateModified())
			}
		}
		return a.ID().Compare(b.ID()) < 0
	})
}
