// Package redis provides the optional shared Redis client. Nothing in the
// dunning engine requires Redis for correctness.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/dunning/pkg/config"
)

// New returns nil when redis.url is not configured.
func New(lc fx.Lifecycle, cfg *config.Config, l *zap.SugaredLogger) (*goredis.Client, error) {
	if cfg.Redis.URL == "" {
		l.Infow("redis disabled")
		return nil, nil
	}
	opts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	l.Infow("redis connection established", "addr", opts.Addr)
	return client, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
