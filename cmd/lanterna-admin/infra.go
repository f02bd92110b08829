package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lanterna/lanterna-api/config"
	"github.com/lanterna/lanterna-api/internal/bootstrap"
)

var errRedisNotConfigured = errors.New("redis not configured")

// withRedis connects the session store for the duration of f.
func withRedis(cmdCtx *commandContext, f func(context.Context, redis.UniversalClient) error) error {
	if !hasRedisConfig(&cmdCtx.Config.Redis) {
		return errRedisNotConfigured
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cmdCtx.Config.Redis, Logger: cmdCtx.Logger})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", cerr)
		}
	}()

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()
	return f(ctx, client)
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}
