// Package cache keeps the recoverable-streak entries: the length a streak had
// right before it was reset, available for a limited window.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "streak:reset:"

// Entry is a recoverable streak. SnapshotAt identifies the entry: a later
// reset of the same user produces a different one.
type Entry struct {
	Length     int
	SnapshotAt time.Time
}

type RecoverableStreaks struct {
	rdb goredis.UniversalClient
	ttl time.Duration
}

func NewRecoverableStreaks(rdb goredis.UniversalClient, ttl time.Duration) *RecoverableStreaks {
	return &RecoverableStreaks{rdb: rdb, ttl: ttl}
}

// Key is the cache key holding the pre-reset length for userID.
func Key(userID string) string {
	return keyPrefix + userID
}

func snapshotKey(userID string) string {
	return Key(userID) + ":at"
}

// Put records length as recoverable for userID. Both keys expire together.
func (c *RecoverableStreaks) Put(ctx context.Context, userID string, length int, at time.Time) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, Key(userID), length, c.ttl)
		pipe.Set(ctx, snapshotKey(userID), at.UnixMilli(), c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store recoverable streak: %w", err)
	}
	return nil
}

// Get returns the live entry for userID, or nil when there is none.
func (c *RecoverableStreaks) Get(ctx context.Context, userID string) (*Entry, error) {
	vals, err := c.rdb.MGet(ctx, Key(userID), snapshotKey(userID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read recoverable streak: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return nil, nil
	}

	length, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return nil, fmt.Errorf("parse recoverable streak for %s: %w", userID, err)
	}
	if length <= 0 {
		return nil, nil
	}

	entry := &Entry{Length: length}
	if vals[1] != nil {
		ms, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse recoverable streak snapshot for %s: %w", userID, err)
		}
		entry.SnapshotAt = time.UnixMilli(ms).UTC()
	}
	return entry, nil
}

func (c *RecoverableStreaks) Clear(ctx context.Context, userID string) error {
	if err := c.rdb.Del(ctx, Key(userID), snapshotKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear recoverable streak: %w", err)
	}
	return nil
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
