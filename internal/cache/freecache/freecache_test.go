package freecache

import (
	"context"
	"testing"
	"time"

	"github.com/ssuji15/trainpool/internal/cache"
	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/testutil"
	"github.com/ssuji15/trainpool/internal/util"
	"github.com/ssuji15/trainpool/model"
	"github.com/stretchr/testify/require"
)

func newTestCache(ttl int) *FreeCache {
	return NewFreeCache(&config.FreeCacheConfig{SIZE_BYTES: 4 * 1024 * 1024, TTL: ttl})
}

func TestFreeCache_StoreFind(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(0)

	d := testutil.Dataset(t, 0)
	other := testutil.Dataset(t, 1)

	tests := []struct {
		name    string
		store   bool
		present bool
	}{
		{"absent before store", false, false},
		{"present after store", true, true},
		{"second store is a no-op", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.store {
				require.NoError(t, c.Store(ctx, d))
			}
			got, err := c.Find(ctx, d.Hash)
			require.NoError(t, err)
			if !tt.present {
				require.Nil(t, got)
				return
			}
			require.Equal(t, d.Hash, got.Hash)
			require.Equal(t, d.Rows, got.Rows)
		})
	}

	got, err := c.Find(ctx, other.Hash)
	require.NoError(t, err)
	require.Nil(t, got)

	require.ErrorIs(t, c.Store(ctx, nil), cache.ErrNilDataset)

	hashes, err := c.Hashes(ctx)
	require.NoError(t, err)
	require.Equal(t, []model.Hash{d.Hash}, hashes)
}

func TestFreeCache_CorruptEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(0)
	d := testutil.Dataset(t, 0)
	other := testutil.Dataset(t, 2)

	enc, err := other.Encode()
	require.NoError(t, err)
	require.NoError(t, c.cache.Set([]byte(util.GetDatasetKey(d.Hash)), enc, 0))

	got, err := c.Find(ctx, d.Hash)
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = c.cache.Get([]byte(util.GetDatasetKey(d.Hash)))
	require.Error(t, err)
}

func TestFreeCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(1)
	require.Equal(t, 1, c.GetDefaultTTL())

	d := testutil.Dataset(t, 0)
	require.NoError(t, c.Store(ctx, d))

	time.Sleep(2100 * time.Millisecond)

	got, err := c.Find(ctx, d.Hash)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFreeCache_ShutDown(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(0)
	d := testutil.Dataset(t, 0)
	require.NoError(t, c.Store(ctx, d))

	c.ShutDown(ctx)

	got, err := c.Find(ctx, d.Hash)
	require.NoError(t, err)
	require.Nil(t, got)
}
