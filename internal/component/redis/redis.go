package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ssuji15/trainpool/internal/config"
)

var (
	rc        *redis.Client
	once      sync.Once
	initError error
)

// NewRedisClient returns the process-wide redis client, connecting on
// first use.
func NewRedisClient(ctx context.Context) (*redis.Client, error) {
	once.Do(func() {
		cfg, err := config.GetRedisConfig()
		if err != nil {
			initError = err
			return
		}

		client := redis.NewClient(&redis.Options{
			Addr:            cfg.URL,
			Password:        cfg.ClientPassword,
			DB:              0,
			PoolSize:        50,
			MinIdleConns:    10,
			PoolTimeout:     1 * time.Second,
			MinRetryBackoff: 100 * time.Millisecond,
			MaxRetryBackoff: 500 * time.Millisecond,
			ConnMaxIdleTime: 10 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		})

		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := client.Ping(pctx).Err(); err != nil {
			_ = client.Close()
			initError = fmt.Errorf("failed to connect to redis: %v", err)
			return
		}
		rc = client
	})

	return rc, initError
}

func ResetRedisClient() {
	rc = nil
	once = sync.Once{}
	initError = nil
}
