package utils

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
)

// ErrLockHeld means another request currently owns the record lock.
var ErrLockHeld = errors.New("record is locked by another request")

// ErrLockUnavailable means the lock backend is not reachable; callers proceed without it.
var ErrLockUnavailable = errors.New("record lock unavailable")

type ReleaseFunc func(ctx context.Context) error

type RecordLocker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// RedisRecordLocker resolves its client on every call, so it can be built
// before the redis connection is up.
type RedisRecordLocker struct {
	client func() *redislock.Client
}

func NewRedisRecordLocker(client func() *redislock.Client) *RedisRecordLocker {
	return &RedisRecordLocker{client: client}
}

func (l *RedisRecordLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockUnavailable
	}
	c := l.client()
	if c == nil {
		return nil, ErrLockUnavailable
	}
	lock, err := c.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockHeld
	}
	if err != nil {
		return nil, errors.Join(ErrLockUnavailable, err)
	}
	return lock.Release, nil
}
