// Package objstore abstracts the object storage that holds receipt
// attachments: upload by path, time-limited signed access URLs, and plain
// public URLs.
package objstore

import (
	"context"
	"errors"
	"time"
)

// Store is the full storage capability.
type Store interface {
	// Upload writes the object bytes at the given path, overwriting any
	// previous content.
	Upload(ctx context.Context, path string, data []byte) error

	Signer
}

// Signer resolves object paths to access URLs. Split out so read-only
// consumers (the attachment resolver) do not see Upload.
type Signer interface {
	// SignedURL returns a direct-access URL valid for ttl.
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// PublicURL returns the stable, unauthenticated URL for a path. It is
	// a pure string operation and never fails; whether the URL is actually
	// reachable depends on the bucket's access policy.
	PublicURL(path string) string
}

var (
	ErrEmptyPath  = errors.New("empty object path")
	ErrNotSigned  = errors.New("signature missing or invalid")
	ErrURLExpired = errors.New("signed url expired")
)
