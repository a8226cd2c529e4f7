// Package redis provides the Redis integration for the membership engine.
//
// # Overview
//
// Two components live here:
//   - Client: connection management with pooling and connect retry
//   - Locker: a distributed keyed mutex satisfying app.Locker, so several
//     engine processes serialize the same pair and quorum keys
//
// # Locking
//
//	client, err := redis.New(&cfg.Redis, log)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	locker := redis.NewLocker(client, redis.LockOptions{
//		Prefix: "groups:",
//		TTL:    cfg.Membership.LockTTL,
//		Wait:   cfg.Membership.LockWait,
//	})
//	svc := app.NewMembershipService(members, groups, log, app.WithLocker(locker))
//
// A key is held by a random token written with SET NX PX. Unlock deletes the
// key only if the token still matches, so a holder whose TTL lapsed cannot
// release a lock someone else now owns. TTL should comfortably exceed the
// slowest transaction; a lapsed lock is logged at release.
//
// # Metrics
//
// Operation latency, pool statistics and lock contention are exported under
// the groups_redis_* prefix. StartPoolStatsCollector refreshes the pool gauges.
package redis
