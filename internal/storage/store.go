// Package storage holds write-once blobs addressed by key.
package storage

import (
	"context"
	"errors"
)

var (
	ErrExists       = errors.New("object already exists")
	ErrNotFound     = errors.New("object not found")
	ErrInvalidRange = errors.New("invalid byte range")
	ErrInvalidKey   = errors.New("invalid object key")
)

// Store is a write-once blob store. A key, once written, always addresses
// the same bytes.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// GetRange returns length bytes starting at offset together with the
	// full object size. A non-positive length reads to the end.
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, int64, error)
}

// span clamps a requested range to an object of the given size and returns
// the inclusive end offset.
func span(size, offset, length int64) (int64, error) {
	if offset < 0 || offset >= size {
		return 0, ErrInvalidRange
	}
	end := size - 1
	if length > 0 && offset+length-1 < end {
		end = offset + length - 1
	}
	return end, nil
}
