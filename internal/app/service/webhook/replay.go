package webhook

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/types"
)

// ReplayGuard is a fast path in front of the billing_events ledger. It is
// advisory only: the ledger's unique key stays the source of truth.
type ReplayGuard interface {
	Seen(ctx context.Context, provider types.PaymentProvider, eventID string) (bool, error)
	Mark(ctx context.Context, provider types.PaymentProvider, eventID string) error
}

type replayStore interface {
	Exists(ctx context.Context, keys ...string) *goredis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
}

type RedisReplayGuard struct {
	store replayStore
	ttl   time.Duration
}

func NewRedisReplayGuard(store replayStore, ttl time.Duration) *RedisReplayGuard {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisReplayGuard{store: store, ttl: ttl}
}

func replayKey(provider types.PaymentProvider, eventID string) string {
	return fmt.Sprintf("dunning:webhook:%s:%s", provider, eventID)
}

func (g *RedisReplayGuard) Seen(ctx context.Context, provider types.PaymentProvider, eventID string) (bool, error) {
	n, err := g.store.Exists(ctx, replayKey(provider, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Mark must only be called after the ledger row is committed.
func (g *RedisReplayGuard) Mark(ctx context.Context, provider types.PaymentProvider, eventID string) error {
	if err := g.store.SetNX(ctx, replayKey(provider, eventID), "1", g.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	return nil
}

type nopReplayGuard struct{}

func (nopReplayGuard) Seen(context.Context, types.PaymentProvider, string) (bool, error) {
	return false, nil
}

func (nopReplayGuard) Mark(context.Context, types.PaymentProvider, string) error { return nil }

// NewReplayGuard uses Redis when a client is configured.
func NewReplayGuard(cfg *config.Config, client *goredis.Client) ReplayGuard {
	if client == nil {
		return nopReplayGuard{}
	}
	return NewRedisReplayGuard(client, cfg.Redis.ReplayTTL)
}
