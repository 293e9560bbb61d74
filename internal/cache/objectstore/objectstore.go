package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ssuji15/trainpool/internal/cache"
	"github.com/ssuji15/trainpool/internal/service/logger"
	"github.com/ssuji15/trainpool/internal/storage"
	"github.com/ssuji15/trainpool/internal/util"
	"github.com/ssuji15/trainpool/model"
)

const (
	pathPrefix = "datasets/"
	pathSuffix = ".msgpack"
)

// ObjectStoreCache keeps datasets as objects under datasets/<hash>.msgpack
// in a Storage bucket.
type ObjectStoreCache struct {
	store storage.Storage
}

func NewObjectStoreCache(s storage.Storage) *ObjectStoreCache {
	return &ObjectStoreCache{store: s}
}

func (c *ObjectStoreCache) Find(ctx context.Context, h model.Hash) (*model.Dataset, error) {
	b, err := c.store.Download(ctx, util.GetDatasetPath(h))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download dataset %s: %w", h, err)
	}
	d, err := cache.Decode(h, b)
	if err != nil {
		logger.Log.Warn().Err(err).Str("hash", h.String()).Msg("ignoring corrupt dataset object")
		return nil, nil
	}
	return d, nil
}

func (c *ObjectStoreCache) Store(ctx context.Context, d *model.Dataset) error {
	b, err := cache.Encode(d)
	if err != nil {
		return err
	}
	existing, err := c.Find(ctx, d.Hash)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if err := c.store.Upload(ctx, util.GetDatasetPath(d.Hash), b); err != nil {
		return fmt.Errorf("failed to upload dataset %s: %w", d.Hash, err)
	}
	return nil
}

func (c *ObjectStoreCache) Hashes(ctx context.Context) ([]model.Hash, error) {
	names, err := c.store.List(ctx, pathPrefix)
	if err != nil {
		return nil, err
	}
	hashes := make([]model.Hash, 0, len(names))
	for _, n := range names {
		if h, ok := cache.HashFromKey(n, pathPrefix, pathSuffix); ok {
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}

func (c *ObjectStoreCache) ShutDown(ctx context.Context) {
	c.store.Close()
}
