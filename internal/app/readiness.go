package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisPinger is the part of a go-redis client needed for readiness.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// BuildReadinessChecks returns the db, redis and oracle checks. The database
// and Redis are optional: a nil pool or client yields a nil check, which the
// handler skips.
func BuildReadinessChecks(pool Pinger, rdb RedisPinger, oracle domain.Oracle) (
	dbCheck func(ctx context.Context) error,
	redisCheck func(ctx context.Context) error,
	oracleCheck func(ctx context.Context) error,
) {
	if pool != nil {
		dbCheck = pool.Ping
	}
	if rdb != nil {
		redisCheck = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	oracleCheck = func(context.Context) error {
		if oracle == nil {
			return fmt.Errorf("oracle not configured")
		}
		if r, ok := oracle.(domain.ReadinessReporter); ok && !r.Ready() {
			return fmt.Errorf("oracle not ready")
		}
		return nil
	}
	return dbCheck, redisCheck, oracleCheck
}
