package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store holds the redis client and a redsync instance for per-session locks.
type Store struct {
	client *redis.Client
	rs     *redsync.Redsync
	ttl    time.Duration
	log    zerolog.Logger
}

func New(ctx context.Context, addr, password string, db int, lockTTL time.Duration, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis address must be provided")
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &Store{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		ttl:    lockTTL,
		log:    log.With().Str("component", "redis-lock").Logger(),
	}, nil
}

// Lock acquires the named mutex, retrying until ctx is done. The returned
// func releases it and is safe to call once.
func (s *Store) Lock(ctx context.Context, name string) (func(), error) {
	mutex := s.rs.NewMutex(name,
		redsync.WithExpiry(s.ttl),
		redsync.WithTries(64),
		redsync.WithRetryDelay(100*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
	return func() {
		uctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(uctx); err != nil || !ok {
			s.log.Warn().Err(err).Str("lock", name).Msg("unlock failed, lock will expire")
		}
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
