package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/openctemio/groups/internal/app"
	"github.com/openctemio/groups/internal/config"
	"github.com/openctemio/groups/internal/infra/jobs"
	"github.com/openctemio/groups/internal/infra/postgres"
	"github.com/openctemio/groups/internal/infra/redis"
	"github.com/openctemio/groups/pkg/logger"
)

// env holds the services one command runs against.
type env struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *postgres.DB
	groups  *app.GroupService
	members *app.MembershipService
	queries *app.MembershipQueryService
	closers []func() error
}

// openEnv connects to the stores named in the environment. Pair locks are
// taken where every writer sees them: postgres advisory locks by default,
// or redis, in which case transitions are also published to the worker
// queue. Without redis, events are dropped.
func openEnv(_ context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	lc := cfg.Log.LoggerConfig()
	lc.Output = os.Stderr
	if !flagVerbose {
		lc.Level = "warn"
	}
	log := logger.New(lc)

	db, err := postgres.New(&cfg.Database)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: log, db: db}
	e.closers = append(e.closers, db.Close)

	groupRepo := postgres.NewGroupRepository(db)
	memberRepo := postgres.NewMembershipRepository(db)

	var opts []app.MembershipServiceOption
	switch cfg.Membership.LockBackend {
	case config.LockBackendPostgres:
		opts = append(opts, app.WithLocker(postgres.NewAdvisoryLocker(db, postgres.AdvisoryLockOptions{
			Prefix: cfg.App.Name + ":",
			Wait:   cfg.Membership.LockWait,
		}, log)))
	case config.LockBackendRedis:
		rc, err := redis.New(&cfg.Redis, log)
		if err != nil {
			e.close()
			return nil, err
		}
		e.closers = append(e.closers, rc.Close)

		jc := jobs.NewClient(jobs.ClientConfig{
			RedisAddr:     cfg.Redis.Addr(),
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
		}, log)
		e.closers = append(e.closers, jc.Close)

		opts = append(opts,
			app.WithLocker(redis.NewLocker(rc, redis.LockOptions{
				Prefix: cfg.App.Name + ":",
				TTL:    cfg.Membership.LockTTL,
				Wait:   cfg.Membership.LockWait,
			})),
			app.WithEventPublisher(jc),
		)
	}

	e.groups = app.NewGroupService(groupRepo, memberRepo, log)
	e.members = app.NewMembershipService(memberRepo, groupRepo, log, opts...)
	e.queries = app.NewMembershipQueryService(memberRepo, groupRepo, log, cfg.Membership.DefaultPerPage)
	return e, nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.Warn("close failed", "error", err)
		}
	}
}
