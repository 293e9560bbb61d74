//go:build integration
// +build integration

package jetstream

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ssuji15/trainpool/internal/component/jetstream"
	"github.com/ssuji15/trainpool/internal/testutil"
	tjetstream "github.com/ssuji15/trainpool/tests/integration_test/infra/jetstream"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

var (
	natsContainer testcontainers.Container
	JETSTREAM_URL string
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		fmt.Println("skipping integration tests")
		os.Exit(0)
	}
	ctx := context.Background()
	natsContainer, JETSTREAM_URL = tjetstream.SetupContainer(ctx)
	code := m.Run()
	_ = natsContainer.Terminate(ctx)
	os.Exit(code)
}

func resetJetStreamSingleton() {
	jetstream.ResetJetStreamClient()
	jcc = nil
	initError = nil
	once = sync.Once{}
}

func setJetStreamEnv() {
	os.Setenv("JETSTREAM_TTL", "0")
	os.Setenv("JETSTREAM_BUCKET_NAME", "TEST_DATASETS")
	os.Setenv("JETSTREAM_BUCKET_SIZE", "16777216")
	os.Setenv("JETSTREAM_URL", JETSTREAM_URL)
}

func TestNewJetStreamCache(t *testing.T) {
	tests := []struct {
		name      string
		unsetEnv  string
		expectErr bool
	}{
		{"All env set succeeds", "", false},
		{"Missing JETSTREAM_URL fails", "JETSTREAM_URL", true},
		{"Missing BUCKET_NAME fails", "JETSTREAM_BUCKET_NAME", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetJetStreamSingleton()
			setJetStreamEnv()
			if tt.unsetEnv != "" {
				os.Unsetenv(tt.unsetEnv)
			}

			c, err := NewJetStreamCache()
			if tt.expectErr {
				require.Error(t, err)
				require.Nil(t, c)
			} else {
				require.NoError(t, err)
				require.NotNil(t, c)
			}
		})
	}
}

func TestJetStreamCache_StoreFind(t *testing.T) {
	resetJetStreamSingleton()
	setJetStreamEnv()

	ctx := context.Background()
	c, err := NewJetStreamCache()
	require.NoError(t, err)

	d := testutil.Dataset(t, 7)
	got, err := c.Find(ctx, d.Hash)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, c.Store(ctx, d))
	require.NoError(t, c.Store(ctx, d))

	got, err = c.Find(ctx, d.Hash)
	require.NoError(t, err)
	require.Equal(t, d.Hash, got.Hash)

	hashes, err := c.Hashes(ctx)
	require.NoError(t, err)
	require.Contains(t, hashes, d.Hash)

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	c.ShutDown(sctx)
}
