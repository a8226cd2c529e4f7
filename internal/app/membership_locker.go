package app

import (
	"context"

	"github.com/openctemio/groups/pkg/domain/shared"
)

// Locker serializes mutations on a key. Implementations are keylock.Locker
// (one process) and the Postgres advisory and Redis lockers (several
// processes).
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// PairLockKey is the critical section of one (user, group) pair.
func PairLockKey(userID, groupID shared.ID) string {
	return "membership:pair:" + groupID.String() + ":" + userID.String()
}

// QuorumLockKey guards a group's admin count. Any transition that can lower
// that count, or change the role or ban flag of a confirmed row, takes this
// key before the pair key.
func QuorumLockKey(groupID shared.ID) string {
	return "membership:quorum:" + groupID.String()
}
