package queue

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/princekumarofficial/transcode-nexus/internal/config"
)

// Connect opens a Redis client from cfg and checks it responds.
func Connect(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return rdb, nil
}
