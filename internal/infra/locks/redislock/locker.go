package redislock

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	domainavailability "staybook/internal/domain/availability"
)

// Locker serializes ledger writes for a property across processes with a
// Redis mutex. The lock expires on its own if the holder dies.
type Locker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	tries  int
	logger *slog.Logger
}

func New(client redis.UniversalClient, expiry time.Duration, logger *slog.Logger) *Locker {
	if expiry <= 0 {
		expiry = 10 * time.Second
	}
	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		tries:  64,
		logger: logger,
	}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(25*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}
	return func() {
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil && l.logger != nil {
			l.logger.Warn("ledger lock release failed", "key", key, "error", err)
		}
	}, nil
}

var _ domainavailability.Locker = (*Locker)(nil)
