package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ssuji15/trainpool/internal/cache"
	"github.com/ssuji15/trainpool/internal/job_tracer"
	"github.com/ssuji15/trainpool/internal/service/logger"
	"github.com/ssuji15/trainpool/internal/util"
	"github.com/ssuji15/trainpool/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const keyPrefix = "dataset:"

// RedisCache shares datasets between every server pointed at the same
// redis instance. A zero TTL keeps entries until redis evicts them.
type RedisCache struct {
	client *redis.Client
	ttl    int
}

func NewRedisCache(client *redis.Client, ttlSeconds int) *RedisCache {
	return &RedisCache{client: client, ttl: ttlSeconds}
}

func (r *RedisCache) Find(ctx context.Context, h model.Hash) (*model.Dataset, error) {
	ctx, span := job_tracer.GetTracer().Start(ctx, "Redis/Find")
	defer span.End()
	key := util.GetDatasetKey(h)
	span.AddEvent("redis.context",
		trace.WithAttributes(attribute.String("key", key)),
	)

	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		err := fmt.Errorf("failed to retrieve dataset %s: %w", h, err)
		util.RecordSpanError(span, err)
		return nil, err
	}
	d, err := cache.Decode(h, b)
	if err != nil {
		util.RecordSpanError(span, err)
		logger.Log.Warn().Err(err).Str("hash", h.String()).Msg("ignoring corrupt redis entry")
		return nil, nil
	}
	return d, nil
}

func (r *RedisCache) Store(ctx context.Context, d *model.Dataset) error {
	ctx, span := job_tracer.GetTracer().Start(ctx, "Redis/Store")
	defer span.End()

	b, err := cache.Encode(d)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	key := util.GetDatasetKey(d.Hash)
	span.AddEvent("redis.context",
		trace.WithAttributes(attribute.String("key", key), attribute.Int("bytes", len(b))),
	)
	if err := r.client.SetNX(ctx, key, b, time.Duration(r.ttl)*time.Second).Err(); err != nil {
		err := fmt.Errorf("failed to store dataset %s: %w", d.Hash, err)
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

func (r *RedisCache) Hashes(ctx context.Context) ([]model.Hash, error) {
	ctx, span := job_tracer.GetTracer().Start(ctx, "Redis/Hashes")
	defer span.End()

	var hashes []model.Hash
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if h, ok := cache.HashFromKey(iter.Val(), keyPrefix, ""); ok {
			hashes = append(hashes, h)
		}
	}
	if err := iter.Err(); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return hashes, nil
}

func (r *RedisCache) GetDefaultTTL() int {
	return r.ttl
}

func (r *RedisCache) ShutDown(ctx context.Context) {
	if err := r.client.Close(); err != nil {
		logger.Log.Err(err).Msg("unable to close redis client")
	}
}
