package freecache

import (
	"context"
	"errors"
	"fmt"

	fc "github.com/coocood/freecache"
	"github.com/ssuji15/trainpool/internal/cache"
	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/service/logger"
	"github.com/ssuji15/trainpool/internal/util"
	"github.com/ssuji15/trainpool/model"
)

const keyPrefix = "dataset:"

// FreeCache holds encoded datasets in a fixed-size freecache arena. Unlike
// the memory cache it may evict old entries once the arena is full, and a
// single dataset must fit in 1/1024 of the arena.
type FreeCache struct {
	cache *fc.Cache
	ttl   int // seconds
}

func NewFreeCache(cfg *config.FreeCacheConfig) *FreeCache {
	return &FreeCache{
		cache: fc.NewCache(cfg.SIZE_BYTES),
		ttl:   cfg.TTL,
	}
}

func (c *FreeCache) Find(ctx context.Context, h model.Hash) (*model.Dataset, error) {
	data, err := c.cache.Get([]byte(util.GetDatasetKey(h)))
	if errors.Is(err, fc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d, err := cache.Decode(h, data)
	if err != nil {
		logger.Log.Warn().Err(err).Str("hash", h.String()).Msg("dropping corrupt freecache entry")
		c.cache.Del([]byte(util.GetDatasetKey(h)))
		return nil, nil
	}
	return d, nil
}

func (c *FreeCache) Store(ctx context.Context, d *model.Dataset) error {
	data, err := cache.Encode(d)
	if err != nil {
		return err
	}
	key := []byte(util.GetDatasetKey(d.Hash))
	if _, err := c.cache.Get(key); err == nil {
		return nil
	}
	if err := c.cache.Set(key, data, c.ttl); err != nil {
		return fmt.Errorf("freecache: store %s: %w", d.Hash, err)
	}
	return nil
}

func (c *FreeCache) Hashes(ctx context.Context) ([]model.Hash, error) {
	var hashes []model.Hash
	it := c.cache.NewIterator()
	for e := it.Next(); e != nil; e = it.Next() {
		if h, ok := cache.HashFromKey(string(e.Key), keyPrefix, ""); ok {
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}

func (c *FreeCache) GetDefaultTTL() int {
	return c.ttl
}

func (c *FreeCache) ShutDown(ctx context.Context) {
	c.cache.Clear()
}
