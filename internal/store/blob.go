// Package store assigns every artifact payload a deterministic address and
// abstracts the physical blob backend behind a uniform put/get interface.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrUnavailable = errors.New("blob backend unavailable")
)

// BlobStore is the pluggable payload backend. Put is atomic: either the whole
// payload lands under key or none of it does, so a timed-out write can never
// leave a partial object behind.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Presign returns a temporary address for key, expiring after ttl.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}
