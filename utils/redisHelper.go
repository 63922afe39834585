package utils

import (
	"context"
	"time"

	"github.com/mmdatafocus/serviceengine_backend/config"
)

// store instance under key
func StoreRedis[T any](ctx context.Context, key string, obj *T, ttl time.Duration) error {
	return config.SetRedisObject(ctx, key, obj, ttl)
}

// get from redis
// returns nil if does not exist
func RetrieveRedis[T any](ctx context.Context, key string) (*T, error) {
	var result T
	exists, err := config.GetRedisObject(ctx, key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &result, nil
}

func ClearRedis(ctx context.Context, keys ...string) error {
	return config.RemoveRedisKey(ctx, keys...)
}
