package service

import (
	"context"
	"io"
)

// BlobStore keeps uploaded images (profile pictures, chat images) and hands
// back a URL clients can load them from.
type BlobStore interface {
	Upload(ctx context.Context, name string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, name string) error
	Close() error
}
