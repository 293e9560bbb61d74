package component

import (
	"context"
	"fmt"

	"github.com/ssuji15/trainpool/internal/cache"
	"github.com/ssuji15/trainpool/internal/cache/freecache"
	"github.com/ssuji15/trainpool/internal/cache/jetstream"
	"github.com/ssuji15/trainpool/internal/cache/memory"
	"github.com/ssuji15/trainpool/internal/cache/objectstore"
	"github.com/ssuji15/trainpool/internal/cache/redis"
	credis "github.com/ssuji15/trainpool/internal/component/redis"
	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/sandbox"
	"github.com/ssuji15/trainpool/internal/storage"
	"github.com/ssuji15/trainpool/internal/storage/minio"
)

type shutdowner interface {
	ShutDown(context.Context)
}

type expiring interface {
	GetDefaultTTL() int
}

// GetServerCache builds the cache for a training server. Datasets a server
// acknowledged must stay available, so a backend configured to expire
// entries is refused.
func GetServerCache(ctx context.Context, cacheType string) (cache.Cache, error) {
	c, err := GetCache(ctx, cacheType)
	if err != nil {
		return nil, err
	}
	if e, ok := c.(expiring); ok && e.GetDefaultTTL() != 0 {
		ShutDown(ctx, c)
		return nil, fmt.Errorf("cache type %q: entries must not expire, got a ttl of %ds", cacheType, e.GetDefaultTTL())
	}
	return c, nil
}

// GetCache builds the dataset cache named by cacheType (CACHE_TYPE).
func GetCache(ctx context.Context, cacheType string) (cache.Cache, error) {
	switch cacheType {
	case "", "memory":
		return memory.NewMemoryCache(), nil
	case "freecache":
		cfg, err := config.GetFreeCacheConfig()
		if err != nil {
			return nil, err
		}
		return freecache.NewFreeCache(cfg), nil
	case "redis":
		cfg, err := config.GetRedisConfig()
		if err != nil {
			return nil, err
		}
		client, err := credis.NewRedisClient(ctx)
		if err != nil {
			return nil, err
		}
		return redis.NewRedisCache(client, cfg.TTL), nil
	case "jetstream":
		c, err := jetstream.NewJetStreamCache()
		if err != nil {
			return nil, err
		}
		return c, nil
	case "minio":
		st, err := GetStorage(ctx, cacheType)
		if err != nil {
			return nil, err
		}
		return objectstore.NewObjectStoreCache(st), nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cacheType)
	}
}

func GetStorage(ctx context.Context, storageType string) (storage.Storage, error) {
	switch storageType {
	case "minio":
		c, err := minio.NewMinioClient(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", storageType)
	}
}

// ShutDown releases backend connections held by c, if any.
func ShutDown(ctx context.Context, c cache.Cache) {
	if s, ok := c.(shutdowner); ok {
		s.ShutDown(ctx)
	}
}

// GetLauncher builds the sandbox launcher named by SANDBOX_TYPE.
func GetLauncher(cfg *config.SandboxConfig) (sandbox.Launcher, error) {
	switch cfg.SANDBOX_TYPE {
	case "", "process":
		return sandbox.NewProcessLauncher()
	case "docker":
		return sandbox.NewDockerLauncher(cfg)
	default:
		return nil, fmt.Errorf("unknown sandbox type %q", cfg.SANDBOX_TYPE)
	}
}
