package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/kartikbazzad/catopus/internal/storage"
	"github.com/kartikbazzad/catopus/internal/table"
)

// ContentType of stored result blobs.
const ContentType = "application/vnd.apache.parquet"

// BlobKey is the storage key of the result with identifier id.
func BlobKey(id string) string {
	return "search_results/" + id + ".parquet.gzip"
}

// Blobs stores merged results as parquet objects.
type Blobs struct {
	store storage.Store
}

func NewBlobs(store storage.Store) *Blobs {
	return &Blobs{store: store}
}

// PersistBlob writes t under id and returns the storage key. An id can be
// written once.
func (b *Blobs) PersistBlob(ctx context.Context, id string, t *table.Table) (string, error) {
	if id == "" {
		return "", errors.New("blob identifier is required")
	}
	data, err := EncodeParquet(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	key := BlobKey(id)
	if err := b.store.Put(ctx, key, data, ContentType); err != nil {
		return "", fmt.Errorf("failed to store result: %w", err)
	}
	return key, nil
}

// LoadBlob reads and decodes the result stored under id.
func (b *Blobs) LoadBlob(ctx context.Context, id string) (*table.Table, error) {
	data, err := b.store.Get(ctx, BlobKey(id))
	if err != nil {
		return nil, err
	}
	return DecodeParquet(data)
}

// ReadBlob returns raw bytes of the stored result, optionally a range.
func (b *Blobs) ReadBlob(ctx context.Context, id string, offset, length int64) ([]byte, int64, error) {
	return b.store.GetRange(ctx, BlobKey(id), offset, length)
}
