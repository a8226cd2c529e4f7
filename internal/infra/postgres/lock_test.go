package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockRows(held bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"locked"}).AddRow(held)
}

func TestAdvisoryLocker_LockUnlock(t *testing.T) {
	db, mock := newMockDB(t)
	locker := NewAdvisoryLocker(db, AdvisoryLockOptions{Prefix: "groups:"}, nil)

	mock.ExpectQuery(q(tryAdvisoryLockQuery)).
		WithArgs("groups:membership:quorum:g1").
		WillReturnRows(lockRows(true))
	mock.ExpectQuery(q(advisoryUnlockQuery)).
		WithArgs("groups:membership:quorum:g1").
		WillReturnRows(lockRows(true))

	unlock, err := locker.Lock(context.Background(), "membership:quorum:g1")
	require.NoError(t, err)
	unlock()
	unlock()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLocker_WaitsForHolder(t *testing.T) {
	db, mock := newMockDB(t)
	locker := NewAdvisoryLocker(db, AdvisoryLockOptions{
		Wait:       time.Second,
		RetryDelay: time.Millisecond,
	}, nil)

	mock.ExpectQuery(q(tryAdvisoryLockQuery)).WithArgs("pair").WillReturnRows(lockRows(false))
	mock.ExpectQuery(q(tryAdvisoryLockQuery)).WithArgs("pair").WillReturnRows(lockRows(false))
	mock.ExpectQuery(q(tryAdvisoryLockQuery)).WithArgs("pair").WillReturnRows(lockRows(true))
	mock.ExpectQuery(q(advisoryUnlockQuery)).WithArgs("pair").WillReturnRows(lockRows(true))

	unlock, err := locker.Lock(context.Background(), "pair")
	require.NoError(t, err)
	unlock()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLocker_Timeout(t *testing.T) {
	db, mock := newMockDB(t)
	locker := NewAdvisoryLocker(db, AdvisoryLockOptions{
		Wait:       50 * time.Millisecond,
		RetryDelay: 10 * time.Second,
	}, nil)

	mock.ExpectQuery(q(tryAdvisoryLockQuery)).WithArgs("pair").WillReturnRows(lockRows(false))

	_, err := locker.Lock(context.Background(), "pair")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
}

func TestAdvisoryLocker_EmptyKey(t *testing.T) {
	db, _ := newMockDB(t)
	_, err := NewAdvisoryLocker(db, AdvisoryLockOptions{}, nil).Lock(context.Background(), "")
	assert.Error(t, err)
}
