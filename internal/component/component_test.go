package component

import (
	"context"
	"testing"

	"github.com/ssuji15/trainpool/internal/cache/freecache"
	"github.com/ssuji15/trainpool/internal/cache/memory"
	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/sandbox"
	"github.com/ssuji15/trainpool/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestGetCache(t *testing.T) {
	tests := []struct {
		name      string
		cacheType string
		envs      map[string]string
		check     func(t *testing.T, c any)
		expectErr bool
	}{
		{
			name:      "empty type is memory",
			cacheType: "",
			check: func(t *testing.T, c any) {
				require.IsType(t, &memory.MemoryCache{}, c)
			},
		},
		{
			name:      "freecache",
			cacheType: "freecache",
			envs:      map[string]string{"FREECACHE_SIZE": "1048576", "FREECACHE_TTL": "0"},
			check: func(t *testing.T, c any) {
				require.IsType(t, &freecache.FreeCache{}, c)
			},
		},
		{
			name:      "freecache without size",
			cacheType: "freecache",
			envs:      map[string]string{"FREECACHE_SIZE": ""},
			expectErr: true,
		},
		{
			name:      "redis without endpoint",
			cacheType: "redis",
			envs:      map[string]string{"REDIS_ENDPOINT": ""},
			expectErr: true,
		},
		{
			name:      "unknown",
			cacheType: "memcached",
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envs {
				t.Setenv(k, v)
			}
			c, err := GetCache(context.Background(), tt.cacheType)
			if tt.expectErr {
				require.Error(t, err)
				require.Nil(t, c)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)

			ctx := context.Background()
			d := testutil.Dataset(t, 0)
			require.NoError(t, c.Store(ctx, d))
			got, err := c.Find(ctx, d.Hash)
			require.NoError(t, err)
			require.Equal(t, d.Hash, got.Hash)
			ShutDown(ctx, c)
		})
	}
}

func TestGetServerCacheRefusesExpiry(t *testing.T) {
	ctx := context.Background()

	t.Setenv("FREECACHE_SIZE", "1048576")
	t.Setenv("FREECACHE_TTL", "60")
	c, err := GetServerCache(ctx, "freecache")
	require.Error(t, err)
	require.Nil(t, c)

	t.Setenv("FREECACHE_TTL", "0")
	c, err = GetServerCache(ctx, "freecache")
	require.NoError(t, err)
	require.IsType(t, &freecache.FreeCache{}, c)
	ShutDown(ctx, c)

	c, err = GetServerCache(ctx, "memory")
	require.NoError(t, err)
	require.IsType(t, &memory.MemoryCache{}, c)
}

func TestGetStorageUnknown(t *testing.T) {
	_, err := GetStorage(context.Background(), "s3")
	require.Error(t, err)
}

func TestGetLauncher(t *testing.T) {
	l, err := GetLauncher(&config.SandboxConfig{SANDBOX_TYPE: "process"})
	require.NoError(t, err)
	require.IsType(t, &sandbox.ProcessLauncher{}, l)

	_, err = GetLauncher(&config.SandboxConfig{SANDBOX_TYPE: "firecracker"})
	require.Error(t, err)
}
