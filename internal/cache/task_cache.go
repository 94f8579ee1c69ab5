// Package cache keeps per-user task snapshots in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gurkanbulca/taskboard/internal/models"
)

const keyPrefix = "taskboard:tasks:"

// The hash tag keeps both keys of a user in one cluster slot so Set can
// watch the version while writing the list.
func key(userID string) string {
	return keyPrefix + "{" + userID + "}"
}

func versionKey(userID string) string {
	return key(userID) + ":version"
}

// TaskCache caches the ordered task list of each user.
type TaskCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTaskCache returns a TaskCache whose entries expire after ttl.
func NewTaskCache(rdb *redis.Client, ttl time.Duration) *TaskCache {
	return &TaskCache{rdb: rdb, ttl: ttl}
}

// Connect opens a client for addr and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

// Get returns the cached list of userID. ok is false on a miss.
func (c *TaskCache) Get(ctx context.Context, userID string) (tasks []models.Task, ok bool, err error) {
	b, err := c.rdb.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(b, &tasks); err != nil {
		return nil, false, fmt.Errorf("decode cached tasks: %w", err)
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, true, nil
}

// Version returns the invalidation counter of userID. Read it before loading
// the list that is later passed to Set.
func (c *TaskCache) Version(ctx context.Context, userID string) (int64, error) {
	v, err := c.rdb.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Set stores the list of userID if no Invalidate ran since version was read.
// A list loaded before a concurrent write is dropped instead of cached.
func (c *TaskCache) Set(ctx context.Context, userID string, version int64, tasks []models.Task) error {
	b, err := json.Marshal(tasks)
	if err != nil {
		return err
	}

	vk := versionKey(userID)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(userID), b, c.ttl)
			return nil
		})
		return err
	}, vk)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// Invalidate drops the cached list of userID and bumps its version.
func (c *TaskCache) Invalidate(ctx context.Context, userID string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(userID))
		pipe.Del(ctx, key(userID))
		return nil
	})
	return err
}
