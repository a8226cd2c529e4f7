package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/groups/pkg/domain/group"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
)

var (
	groupCols      = []string{"id", "name", "slug", "status", "creator_id", "settings", "created_at", "updated_at"}
	membershipCols = []string{"id", "user_id", "group_id", "kind", "role", "is_banned", "inviter_id", "comments", "date_modified"}
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Wrap(db), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

// --- groups ---

func TestGroupRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepository(db)

	g, err := group.NewGroup("Chess Club", "", group.StatusPrivate, shared.NewID())
	require.NoError(t, err)

	mock.ExpectExec(q("INSERT INTO groups")).
		WithArgs(g.ID().String(), "Chess Club", "chess-club", "private", g.CreatorID().String(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), g))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepository_Create_DuplicateSlug(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepository(db)

	g, err := group.NewGroup("Chess Club", "", group.StatusPublic, shared.NewID())
	require.NoError(t, err)

	mock.ExpectExec(q("INSERT INTO groups")).WillReturnError(&pq.Error{Code: pgUniqueViolation})

	err = repo.Create(context.Background(), g)
	assert.True(t, shared.IsConflict(err))
}

func TestGroupRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepository(db)

	id, creator := shared.NewID(), shared.NewID()
	now := time.Now().UTC().Truncate(time.Second)
	mock.ExpectQuery(q("FROM groups WHERE id = $1")).
		WithArgs(id.String()).
		WillReturnRows(mock.NewRows(groupCols).AddRow(
			id.String(), "Chess Club", "chess-club", "hidden", creator.String(),
			[]byte(`{"invite_status":"admins"}`), now, now,
		))

	g, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, g.ID())
	assert.Equal(t, group.StatusHidden, g.Status())
	assert.Equal(t, creator, g.CreatorID())
	assert.Equal(t, group.InviteStatusAdmins, g.Settings().InviteStatus)
}

func TestGroupRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepository(db)

	mock.ExpectQuery(q("FROM groups WHERE id = $1")).WillReturnRows(mock.NewRows(groupCols))

	_, err := repo.GetByID(context.Background(), shared.NewID())
	assert.True(t, shared.IsNotFound(err))
}

func TestGroupRepository_Update_Missing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepository(db)

	g, err := group.NewGroup("Chess Club", "", group.StatusPublic, shared.NewID())
	require.NoError(t, err)

	mock.ExpectExec(q("UPDATE groups")).WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Update(context.Background(), g)
	assert.True(t, shared.IsNotFound(err))
}

func TestGroupRepository_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGroupRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(q("SELECT COUNT(*) FROM groups WHERE name ILIKE $1")).
		WithArgs(`%50\%%`).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(q("ORDER BY LOWER(name), id LIMIT $2 OFFSET $3")).
		WithArgs(`%50\%%`, 2, 1).
		WillReturnRows(mock.NewRows(groupCols).
			AddRow(shared.NewID().String(), "50% Club", "fifty", "public", shared.NewID().String(), nil, now, now))

	groups, total, err := repo.List(context.Background(), group.Filter{Search: "50%", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, groups, 1)
	assert.Equal(t, group.DefaultSettings(), groups[0].Settings())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- memberships ---

func membershipRow(rows *sqlmock.Rows, m *membership.Membership) *sqlmock.Rows {
	var inviter any
	if !m.InviterID().IsZero() {
		inviter = m.InviterID().String()
	}
	return rows.AddRow(
		m.ID().String(), m.UserID().String(), m.GroupID().String(),
		string(m.Kind()), storedRole(m), m.IsBanned(), inviter, m.Comments(), m.DateModified(),
	)
}

func TestMembershipRepository_Get(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMembershipRepository(db)

	user, grp, inviter := shared.NewID(), shared.NewID(), shared.NewID()
	invite, err := membership.NewInvite(user, grp, inviter, "join us", true, time.Now())
	require.NoError(t, err)

	mock.ExpectQuery(q("kind = ANY($3)")).
		WithArgs(user.String(), grp.String(), sqlmock.AnyArg()).
		WillReturnRows(membershipRow(mock.NewRows(membershipCols), invite))

	got, err := repo.Get(context.Background(), user, grp, membership.KindAnyInvite)
	require.NoError(t, err)
	assert.Equal(t, membership.KindSentInvite, got.Kind())
	assert.Equal(t, inviter, got.InviterID())
	assert.Equal(t, "join us", got.Comments())
}

func TestMembershipRepository_Get_Errors(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMembershipRepository(db)

	_, err := repo.Get(context.Background(), shared.NewID(), shared.NewID(), membership.Kind("bogus"))
	assert.True(t, shared.IsInvalidArgument(err))

	mock.ExpectQuery(q("FROM group_members")).WillReturnRows(mock.NewRows(membershipCols))
	_, err = repo.Get(context.Background(), shared.NewID(), shared.NewID(), membership.KindAny)
	assert.True(t, shared.IsNotFound(err))
}

func TestMembershipRepository_Insert(t *testing.T) {
	user, grp := shared.NewID(), shared.NewID()
	m, err := membership.NewRequest(user, grp, "please", time.Now())
	require.NoError(t, err)

	tests := []struct {
		name  string
		dbErr error
		check func(error) bool
	}{
		{"ok", nil, func(err error) bool { return err == nil }},
		{"duplicate kind", &pq.Error{Code: pgUniqueViolation}, shared.IsConflict},
		{"unknown group", &pq.Error{Code: pgForeignKeyViolation}, shared.IsNotFound},
		{"driver failure", errors.New("boom"), func(err error) bool { return err != nil && !shared.IsDomainError(err) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewMembershipRepository(db)

			exp := mock.ExpectExec(q("INSERT INTO group_members")).
				WithArgs(m.ID().String(), user.String(), grp.String(), "request", "regular", false, nil, "please", sqlmock.AnyArg())
			if tt.dbErr != nil {
				exp.WillReturnError(tt.dbErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, 1))
			}

			assert.True(t, tt.check(repo.Insert(context.Background(), m)))
		})
	}
}

func TestMembershipRepository_Update_Missing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMembershipRepository(db)

	m, err := membership.NewMember(shared.NewID(), shared.NewID(), membership.RoleAdmin, time.Now())
	require.NoError(t, err)

	mock.ExpectExec(q("UPDATE group_members")).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.True(t, shared.IsNotFound(repo.Update(context.Background(), m)))
}

func TestMembershipRepository_WithinTx(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMembershipRepository(db)

	user, grp := shared.NewID(), shared.NewID()
	member, err := membership.NewMember(user, grp, membership.RoleRegular, time.Now())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs(user.String(), grp.String(), sqlmock.AnyArg()).
		WillReturnRows(membershipRow(mock.NewRows(membershipCols), member))
	mock.ExpectExec(q("DELETE FROM group_members WHERE id = $1")).
		WithArgs(member.ID().String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.WithinTx(context.Background(), func(tx membership.Repository) error {
		rows, err := tx.ListForPair(context.Background(), user, grp)
		if err != nil {
			return err
		}
		require.Len(t, rows, 1)
		return tx.Delete(context.Background(), rows[0].ID())
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepository_WithinTx_RollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMembershipRepository(db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := shared.ConflictError("already a member")
	err := repo.WithinTx(context.Background(), func(membership.Repository) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepository_ListForPair_NoLockOutsideTx(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMembershipRepository(db)

	mock.ExpectQuery(`ORDER BY array_position\(\$3::text\[\], kind\)$`).
		WillReturnRows(mock.NewRows(membershipCols))

	rows, err := repo.ListForPair(context.Background(), shared.NewID(), shared.NewID())
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepository_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMembershipRepository(db)

	user := shared.NewID()
	m, err := membership.NewMember(user, shared.NewID(), membership.RoleMod, time.Now())
	require.NoError(t, err)

	mock.ExpectQuery(q("SELECT COUNT(*) FROM group_members gm JOIN groups g ON g.id = gm.group_id WHERE gm.user_id = $1 AND gm.kind = ANY($2) AND gm.is_banned = $3 AND g.name ILIKE $4")).
		WithArgs(user.String(), sqlmock.AnyArg(), false, "%chess%").
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(q("ORDER BY LOWER(g.name), gm.id LIMIT $5 OFFSET $6")).
		WithArgs(user.String(), sqlmock.AnyArg(), false, "%chess%", 1, 5).
		WillReturnRows(membershipRow(mock.NewRows(membershipCols), m))

	res, err := repo.List(context.Background(), membership.Filter{
		UserID:  membership.IDRef(user),
		Kinds:   []membership.Kind{membership.KindMember},
		Banned:  membership.Bool(false),
		Search:  "chess",
		OrderBy: membership.OrderGroupName,
		Offset:  5,
		Limit:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Total)
	require.Len(t, res.Memberships, 1)
	assert.Equal(t, membership.RoleMod, res.Memberships[0].Role())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepository_List_NoJoinWithoutSearch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMembershipRepository(db)

	grp := shared.NewID()
	cutoff := time.Now()
	mock.ExpectQuery(q("SELECT COUNT(*) FROM group_members gm WHERE gm.group_id = $1 AND gm.date_modified < $2")).
		WithArgs(grp.String(), cutoff).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(q("ORDER BY gm.date_modified ASC, gm.id")).
		WillReturnRows(mock.NewRows(membershipCols))

	res, err := repo.List(context.Background(), membership.Filter{
		GroupID:        membership.IDRef(grp),
		ModifiedBefore: &cutoff,
		OrderBy:        membership.OrderDateModifiedAsc,
	})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Empty(t, res.Memberships)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepository_DeleteByGroup(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMembershipRepository(db)

	grp := shared.NewID()
	mock.ExpectExec(q("DELETE FROM group_members WHERE group_id = $1")).
		WithArgs(grp.String()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteByGroup(context.Background(), grp)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestMembershipRepository_GetByIDs_Empty(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewMembershipRepository(db)

	rows, err := repo.GetByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPrefixed(t *testing.T) {
	assert.Equal(t, "gm.id, gm.kind", prefixed("gm.", "id, kind"))
}

func TestMembershipRepository_CreateGroupTx(t *testing.T) {
	creator := shared.NewID()
	newGroup := func(t *testing.T) (*group.Group, *membership.Membership) {
		t.Helper()
		g, err := group.NewGroup("Chess Club", "", group.StatusPublic, creator)
		require.NoError(t, err)
		admin, err := membership.NewMember(creator, g.ID(), membership.RoleAdmin, time.Now())
		require.NoError(t, err)
		return g, admin
	}

	t.Run("commits both rows", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewMembershipRepository(db)
		g, admin := newGroup(t)

		mock.ExpectBegin()
		mock.ExpectExec(q("INSERT INTO groups")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("INSERT INTO group_members")).
			WithArgs(admin.ID().String(), creator.String(), g.ID().String(), "member", "admin",
				false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.CreateGroupTx(context.Background(), g, admin))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back the group when the admin row fails", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewMembershipRepository(db)
		g, admin := newGroup(t)

		mock.ExpectBegin()
		mock.ExpectExec(q("INSERT INTO groups")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("INSERT INTO group_members")).WillReturnError(&pq.Error{Code: pgUniqueViolation})
		mock.ExpectRollback()

		err := repo.CreateGroupTx(context.Background(), g, admin)
		assert.True(t, shared.IsConflict(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
