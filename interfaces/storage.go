package interfaces

import "context"

// BlobStorage persists attachment content outside the cache database.
type BlobStorage interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
