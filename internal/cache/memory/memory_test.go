package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/ssuji15/trainpool/internal/cache"
	"github.com/ssuji15/trainpool/internal/testutil"
	"github.com/ssuji15/trainpool/model"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_StoreFind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewMemoryCache()
	d := testutil.Dataset(t, 0)

	got, err := c.Find(ctx, d.Hash)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, c.Store(ctx, d))
	got, err = c.Find(ctx, d.Hash)
	require.NoError(t, err)
	require.Equal(t, d.Hash, got.Hash)
	require.Equal(t, d.Rows, got.Rows)
	require.Len(t, got.Columns, len(d.Columns))

	require.ErrorIs(t, c.Store(ctx, nil), cache.ErrNilDataset)
}

func TestMemoryCache_StoreIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewMemoryCache()
	first := testutil.Dataset(t, 0)
	second := testutil.Dataset(t, 0)

	require.NoError(t, c.Store(ctx, first))
	require.NoError(t, c.Store(ctx, second))
	require.Equal(t, 1, c.Len())

	got, err := c.Find(ctx, first.Hash)
	require.NoError(t, err)
	require.Same(t, first, got)
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewMemoryCache()
	datasets := make([]*model.Dataset, 8)
	for i := range datasets {
		datasets[i] = testutil.Dataset(t, float64(i))
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := datasets[i%len(datasets)]
			_ = c.Store(ctx, d)
			_, _ = c.Find(ctx, d.Hash)
		}(i)
	}
	wg.Wait()

	hashes, err := c.Hashes(ctx)
	require.NoError(t, err)
	require.Len(t, hashes, len(datasets))
}
