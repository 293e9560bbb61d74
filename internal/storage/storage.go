package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("storage: object not found")

// Storage is a flat object store. Download returns ErrNotFound for a
// missing object.
type Storage interface {
	Upload(ctx context.Context, objectPath string, data []byte) error
	Download(ctx context.Context, objectPath string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Close()
}
