package redisclient

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/railzway-reports/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

// New builds the shared client. Connections are opened lazily, so a
// deployment that never takes a lease or checks a rate limit never dials.
func New(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Redis.Addr),
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}
