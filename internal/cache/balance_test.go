package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisBalanceCacheDefaults(t *testing.T) {
	c := NewRedisBalanceCache(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), 0)
	if c.ttl != 5*time.Minute {
		t.Fatalf("ttl: got %s, want 5m", c.ttl)
	}
	if got := c.key(42); got != "tokenledger:balance:42" {
		t.Fatalf("key: got %q", got)
	}
}

func TestRedisBalanceCacheUnavailableIsNotAMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	c := NewRedisBalanceCache(client, time.Minute)

	ctx := context.Background()
	_, err := c.Get(ctx, 1)
	if err == nil || errors.Is(err, ErrCacheMiss) {
		t.Fatalf("got %v, want a connection error distinct from a miss", err)
	}
	if err := c.Fill(ctx, 1, 10); err == nil {
		t.Fatalf("fill: expected a connection error")
	}
	if err := c.Set(ctx, 1, 10); err == nil {
		t.Fatalf("set: expected a connection error")
	}
}

func TestNopBalanceCache(t *testing.T) {
	var c BalanceCache = NopBalanceCache{}
	ctx := context.Background()
	if err := c.Set(ctx, 1, 100); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Fill(ctx, 1, 100); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if _, err := c.Get(ctx, 1); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("got %v, want ErrCacheMiss", err)
	}
	if err := c.Invalidate(ctx, 1); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
}

func TestRaiseBalanceScriptGuardsAgainstLowerWrites(t *testing.T) {
	for _, want := range []string{"GET", ">= tonumber(ARGV[1])", "'PX', ARGV[2]"} {
		if !strings.Contains(luaRaiseBalance, want) {
			t.Errorf("raise script missing %q", want)
		}
	}
}
