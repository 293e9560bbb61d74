package objectstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/ssuji15/trainpool/internal/storage"
	"github.com/ssuji15/trainpool/internal/testutil"
	"github.com/ssuji15/trainpool/internal/util"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
	failGet error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}}
}

func (s *memStorage) Upload(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	s.objects[path] = append([]byte(nil), data...)
	return nil
}

func (s *memStorage) Download(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	b, ok := s.objects[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return b, nil
}

func (s *memStorage) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *memStorage) Close() {}

func TestObjectStoreCache_StoreFind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newMemStorage()
	c := NewObjectStoreCache(st)
	d := testutil.Dataset(t, 0)

	got, err := c.Find(ctx, d.Hash)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, c.Store(ctx, d))
	require.NoError(t, c.Store(ctx, d))
	require.Equal(t, 1, st.uploads)

	got, err = c.Find(ctx, d.Hash)
	require.NoError(t, err)
	require.Equal(t, d.Hash, got.Hash)
	require.Equal(t, d.Rows, got.Rows)

	st.objects["datasets/README"] = []byte("not a dataset")
	hashes, err := c.Hashes(ctx)
	require.NoError(t, err)
	require.Len(t, hashes, 1)
	require.Equal(t, d.Hash, hashes[0])
}

func TestObjectStoreCache_CorruptObject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newMemStorage()
	c := NewObjectStoreCache(st)
	d := testutil.Dataset(t, 0)
	other := testutil.Dataset(t, 5)

	enc, err := other.Encode()
	require.NoError(t, err)
	st.objects[util.GetDatasetPath(d.Hash)] = enc

	got, err := c.Find(ctx, d.Hash)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestObjectStoreCache_DownloadError(t *testing.T) {
	t.Parallel()

	st := newMemStorage()
	st.failGet = errors.New("connection reset")
	c := NewObjectStoreCache(st)

	_, err := c.Find(context.Background(), testutil.Dataset(t, 0).Hash)
	require.Error(t, err)
}
