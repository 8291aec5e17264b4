package cache

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

//go:embed lua/raise_balance.lua
var luaRaiseBalance string

var ErrCacheMiss = errors.New("balance not found in cache")

// BalanceCache is a read-through cache for user token balances.
// Postgres stays the source of truth; every method is best effort.
//
// Readers refill with Fill, which never overwrites an existing value. Writers
// publish committed balances with Set, which never lowers a cached value, so a
// slow reader holding a pre-credit balance cannot replace a newer one.
// Balances only grow in this service.
type BalanceCache interface {
	Get(ctx context.Context, userID int64) (int64, error)
	Fill(ctx context.Context, userID, balance int64) error
	Set(ctx context.Context, userID, balance int64) error
	Invalidate(ctx context.Context, userID int64) error
}

type RedisBalanceCache struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	scrRaise *redis.Script
}

func NewRedisBalanceCache(client redis.UniversalClient, ttl time.Duration) *RedisBalanceCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisBalanceCache{
		client:   client,
		prefix:   "tokenledger:balance:",
		ttl:      ttl,
		scrRaise: redis.NewScript(luaRaiseBalance),
	}
}

// Connect dials redis and checks the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  time.Second,
		ReadTimeout:  400 * time.Millisecond,
		WriteTimeout: 400 * time.Millisecond,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (c *RedisBalanceCache) key(userID int64) string {
	return c.prefix + strconv.FormatInt(userID, 10)
}

func (c *RedisBalanceCache) Get(ctx context.Context, userID int64) (int64, error) {
	val, err := c.client.Get(ctx, c.key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, fmt.Errorf("failed to get balance from redis: %w", err)
	}
	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse balance from redis: %w", err)
	}
	return balance, nil
}

// Fill stores balance only if the key is absent.
func (c *RedisBalanceCache) Fill(ctx context.Context, userID, balance int64) error {
	if err := c.client.SetNX(ctx, c.key(userID), strconv.FormatInt(balance, 10), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to fill balance in redis: %w", err)
	}
	return nil
}

// Set stores a committed balance unless the cache already holds a higher one.
func (c *RedisBalanceCache) Set(ctx context.Context, userID, balance int64) error {
	keys := []string{c.key(userID)}
	args := []any{balance, c.ttl.Milliseconds()}
	if err := c.scrRaise.Run(ctx, c.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("failed to set balance in redis: %w", err)
	}
	return nil
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, userID int64) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate balance in redis: %w", err)
	}
	return nil
}

// NopBalanceCache always misses. Used when redis is not configured.
type NopBalanceCache struct{}

func (NopBalanceCache) Get(context.Context, int64) (int64, error) { return 0, ErrCacheMiss }
func (NopBalanceCache) Fill(context.Context, int64, int64) error  { return nil }
func (NopBalanceCache) Set(context.Context, int64, int64) error   { return nil }
func (NopBalanceCache) Invalidate(context.Context, int64) error   { return nil }
