package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/groups/pkg/domain/group"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
)

// MembershipRepository implements membership.Repository using PostgreSQL.
//
// The repository returned by NewMembershipRepository runs each statement on
// the pool. WithinTx hands fn a copy bound to one transaction, where
// ListForPair also takes row locks on the pair.
type MembershipRepository struct {
	db   *DB
	q    querier
	inTx bool
}

var _ membership.Repository = (*MembershipRepository)(nil)

// NewMembershipRepository creates a new MembershipRepository.
func NewMembershipRepository(db *DB) *MembershipRepository {
	return &MembershipRepository{db: db, q: db}
}

const membershipColumns = `id, user_id, group_id, kind, role, is_banned, inviter_id, comments, date_modified`

// WithinTx runs fn inside a single transaction. Nested calls reuse it.
func (r *MembershipRepository) WithinTx(ctx context.Context, fn func(tx membership.Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		return fn(&MembershipRepository{db: r.db, q: tx, inTx: true})
	})
}

// CreateGroupTx inserts the group and its creator's row in one transaction.
func (r *MembershipRepository) CreateGroupTx(ctx context.Context, g *group.Group, creator *membership.Membership) error {
	if creator.GroupID() != g.ID() {
		return shared.InvalidArgumentError("creator row belongs to another group")
	}
	create := func(tx *MembershipRepository) error {
		if err := insertGroup(ctx, tx.q, g); err != nil {
			return err
		}
		return tx.Insert(ctx, creator)
	}
	if r.inTx {
		return create(r)
	}
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		return create(&MembershipRepository{db: r.db, q: tx, inTx: true})
	})
}

// Get returns the highest-priority row matching kind for the pair.
func (r *MembershipRepository) Get(ctx context.Context, userID, groupID shared.ID, kind membership.Kind) (*membership.Membership, error) {
	if !kind.IsValid() {
		return nil, shared.InvalidArgumentError("invalid membership kind")
	}

	query := `
		SELECT ` + membershipColumns + `
		FROM group_members
		WHERE user_id = $1 AND group_id = $2 AND kind = ANY($3)
		ORDER BY array_position($3::text[], kind)
		LIMIT 1
	`
	row := r.q.QueryRowContext(ctx, query, userID.String(), groupID.String(), pq.Array(kindStrings(kind.Candidates())))
	return r.scanOne(row)
}

// GetByID retrieves a row by its id.
func (r *MembershipRepository) GetByID(ctx context.Context, id shared.ID) (*membership.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM group_members WHERE id = $1`
	return r.scanOne(r.q.QueryRowContext(ctx, query, id.String()))
}

// GetByIDs retrieves the rows that exist among ids. Missing ids are skipped.
func (r *MembershipRepository) GetByIDs(ctx context.Context, ids []shared.ID) ([]*membership.Membership, error) {
	if len(ids) == 0 {
		return []*membership.Membership{}, nil
	}
	query := `SELECT ` + membershipColumns + ` FROM group_members WHERE id = ANY($1) ORDER BY date_modified DESC, id`
	return r.queryRows(ctx, query, pq.Array(idStrings(ids)))
}

// ListForPair returns every row of the pair in variant priority order.
// Inside a transaction the rows are locked until commit.
func (r *MembershipRepository) ListForPair(ctx context.Context, userID, groupID shared.ID) ([]*membership.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM group_members
		WHERE user_id = $1 AND group_id = $2
		ORDER BY array_position($3::text[], kind)
	`
	if r.inTx {
		query += " FOR UPDATE"
	}
	return r.queryRows(ctx, query, userID.String(), groupID.String(), pq.Array(kindStrings(membership.Variants)))
}

// Insert persists a new row.
func (r *MembershipRepository) Insert(ctx context.Context, m *membership.Membership) error {
	if !m.Kind().IsVariant() {
		return shared.InvalidArgumentError("invalid membership kind")
	}

	query := `
		INSERT INTO group_members (` + membershipColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.q.ExecContext(ctx, query,
		m.ID().String(),
		m.UserID().String(),
		m.GroupID().String(),
		string(m.Kind()),
		storedRole(m),
		m.IsBanned(),
		nullIDValue(m.InviterID()),
		m.Comments(),
		m.DateModified(),
	)
	if err != nil {
		return translateWriteError(err, "insert membership")
	}
	return nil
}

// Update overwrites a row by id.
func (r *MembershipRepository) Update(ctx context.Context, m *membership.Membership) error {
	query := `
		UPDATE group_members
		SET kind = $2, role = $3, is_banned = $4, inviter_id = $5, comments = $6, date_modified = $7
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query,
		m.ID().String(),
		string(m.Kind()),
		storedRole(m),
		m.IsBanned(),
		nullIDValue(m.InviterID()),
		m.Comments(),
		m.DateModified(),
	)
	if err != nil {
		return translateWriteError(err, "update membership")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return shared.NotFoundError("membership not found")
	}
	return nil
}

// Delete removes a row. Deleting an absent row is not an error.
func (r *MembershipRepository) Delete(ctx context.Context, id shared.ID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM group_members WHERE id = $1`, id.String()); err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	return nil
}

// DeleteByGroup removes every row of a group.
func (r *MembershipRepository) DeleteByGroup(ctx context.Context, groupID shared.ID) (int64, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = $1`, groupID.String())
	if err != nil {
		return 0, fmt.Errorf("failed to delete group memberships: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// List returns one page of rows matching filter along with the total.
func (r *MembershipRepository) List(ctx context.Context, filter membership.Filter) (*membership.ListResult, error) {
	where := buildMembershipWhere(filter)

	from := ` FROM group_members gm`
	if filter.Search != "" || filter.OrderBy == membership.OrderGroupName {
		from += ` JOIN groups g ON g.id = gm.group_id`
	}

	var total int64
	countQuery := `SELECT COUNT(*)` + from + where.String()
	if err := r.q.QueryRowContext(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count memberships: %w", err)
	}

	query := `SELECT ` + prefixed("gm.", membershipColumns) + from + where.String() + membershipOrder(filter.OrderBy)
	if filter.Limit > 0 {
		query += " LIMIT " + where.next(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + where.next(filter.Offset)
	}

	rows, err := r.queryRows(ctx, query, where.args...)
	if err != nil {
		return nil, err
	}
	return &membership.ListResult{Memberships: rows, Total: total}, nil
}

func buildMembershipWhere(f membership.Filter) *whereBuilder {
	w := &whereBuilder{}
	if f.GroupID != nil {
		w.add("gm.group_id = $%d", f.GroupID.String())
	}
	if f.UserID != nil {
		w.add("gm.user_id = $%d", f.UserID.String())
	}
	if f.InviterID != nil {
		w.add("gm.inviter_id = $%d", f.InviterID.String())
	}
	if len(f.Kinds) > 0 {
		w.add("gm.kind = ANY($%d)", pq.Array(kindStrings(f.Kinds)))
	}
	if len(f.Roles) > 0 {
		roles := make([]string, 0, len(f.Roles))
		for _, role := range f.Roles {
			roles = append(roles, string(role))
		}
		w.add("gm.role = ANY($%d)", pq.Array(roles))
	}
	if f.Banned != nil {
		w.add("gm.is_banned = $%d", *f.Banned)
	}
	if f.Search != "" {
		w.add(`g.name ILIKE $%d ESCAPE '\'`, wrapLikePattern(f.Search))
	}
	if len(f.ExcludeGroupIDs) > 0 {
		w.add("NOT (gm.group_id = ANY($%d))", pq.Array(idStrings(f.ExcludeGroupIDs)))
	}
	if len(f.ExcludeUserIDs) > 0 {
		w.add("NOT (gm.user_id = ANY($%d))", pq.Array(idStrings(f.ExcludeUserIDs)))
	}
	if f.ModifiedBefore != nil {
		w.add("gm.date_modified < $%d", *f.ModifiedBefore)
	}
	return w
}

func membershipOrder(order membership.Order) string {
	switch order {
	case membership.OrderGroupName:
		return " ORDER BY LOWER(g.name), gm.id"
	case membership.OrderDateModifiedAsc:
		return " ORDER BY gm.date_modified ASC, gm.id"
	default:
		return " ORDER BY gm.date_modified DESC, gm.id"
	}
}

func (r *MembershipRepository) queryRows(ctx context.Context, query string, args ...any) ([]*membership.Membership, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	out := make([]*membership.Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return out, nil
}

func (r *MembershipRepository) scanOne(row *sql.Row) (*membership.Membership, error) {
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NotFoundError("membership not found")
	}
	return m, err
}

func scanMembership(row rowScanner) (*membership.Membership, error) {
	var (
		id, userID, groupID shared.ID
		kind, role          string
		banned              bool
		inviter             sql.NullString
		comments            string
		dateModified        time.Time
	)
	if err := row.Scan(&id, &userID, &groupID, &kind, &role, &banned, &inviter, &comments, &dateModified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan membership: %w", err)
	}

	inviterID, err := parseNullID(inviter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse inviter id: %w", err)
	}

	return membership.Reconstitute(
		id, userID, groupID,
		membership.Kind(kind),
		loadedRole(membership.Kind(kind), role),
		banned,
		inviterID,
		comments,
		dateModified,
	), nil
}

// translateWriteError maps constraint violations onto domain errors.
func translateWriteError(err error, op string) error {
	switch {
	case isUniqueViolation(err):
		return shared.ConflictError("membership of this kind already exists for pair")
	case isForeignKeyViolation(err):
		return shared.NotFoundError("group not found")
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// Pending rows carry no role; the column keeps its default for them.
func storedRole(m *membership.Membership) string {
	if m.Role() == "" {
		return string(membership.RoleRegular)
	}
	return string(m.Role())
}

func loadedRole(kind membership.Kind, role string) membership.Role {
	if kind != membership.KindMember {
		return ""
	}
	return membership.Role(role)
}

func kindStrings(kinds []membership.Kind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, string(k))
	}
	return out
}
