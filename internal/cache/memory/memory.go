package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ssuji15/trainpool/internal/cache"
	"github.com/ssuji15/trainpool/model"
)

// MemoryCache keeps datasets for the lifetime of the process. Entries are
// never evicted.
type MemoryCache struct {
	mu       sync.RWMutex
	datasets map[model.Hash]*model.Dataset
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{datasets: make(map[model.Hash]*model.Dataset)}
}

func (c *MemoryCache) Find(_ context.Context, h model.Hash) (*model.Dataset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.datasets[h], nil
}

func (c *MemoryCache) Store(_ context.Context, d *model.Dataset) error {
	if d == nil {
		return cache.ErrNilDataset
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.datasets[d.Hash]; !ok {
		c.datasets[d.Hash] = d
	}
	return nil
}

func (c *MemoryCache) Hashes(_ context.Context) ([]model.Hash, error) {
	c.mu.RLock()
	hashes := make([]model.Hash, 0, len(c.datasets))
	for h := range c.datasets {
		hashes = append(hashes, h)
	}
	c.mu.RUnlock()
	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i].String() < hashes[j].String()
	})
	return hashes, nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.datasets)
}
