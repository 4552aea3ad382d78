package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/supplyrail/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(Provide),
)

// Provide returns nil unless Redis is enabled and a provider rate is set.
func Provide(lc fx.Lifecycle, cfg config.Config) *TokenBucket {
	if !cfg.Redis.Enabled || cfg.Invoicing.RatePerSecond <= 0 {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return NewTokenBucket(client)
}
