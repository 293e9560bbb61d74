package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ssuji15/trainpool/model"
)

// Cache is a content-addressed dataset store. Find returns (nil, nil) when
// the hash is absent. Store is idempotent: storing a dataset whose hash is
// already present leaves the existing entry in place.
type Cache interface {
	Find(ctx context.Context, h model.Hash) (*model.Dataset, error)
	Store(ctx context.Context, d *model.Dataset) error
	Hashes(ctx context.Context) ([]model.Hash, error)
}

var (
	ErrNilDataset = errors.New("cache: nil dataset")
	ErrCorrupt    = errors.New("cache: stored dataset does not match its key")
)

// Encode serializes d for a byte-oriented backend.
func Encode(d *model.Dataset) ([]byte, error) {
	if d == nil {
		return nil, ErrNilDataset
	}
	b, err := d.Encode()
	if err != nil {
		return nil, fmt.Errorf("cache: encode dataset %s: %w", d.Hash, err)
	}
	return b, nil
}

// Decode deserializes an entry read back from a backend and checks that
// its content hash is the one it was stored under.
func Decode(h model.Hash, b []byte) (*model.Dataset, error) {
	d, err := model.DecodeDataset(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, h, err)
	}
	if d.Hash != h {
		return nil, fmt.Errorf("%w: %s holds %s", ErrCorrupt, h, d.Hash)
	}
	return d, nil
}

// HashFromKey recovers the hash from a backend key of the form
// <prefix><hex>[suffix].
func HashFromKey(key, prefix, suffix string) (model.Hash, bool) {
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
		return model.Hash{}, false
	}
	h, err := model.ParseHash(strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix))
	if err != nil {
		return model.Hash{}, false
	}
	return h, true
}
