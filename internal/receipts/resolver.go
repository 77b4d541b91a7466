// Package receipts turns stored receipt references into URLs a browser can
// open.
package receipts

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"outlay/internal/cache"
	applog "outlay/internal/log"
	"outlay/internal/objstore"
)

// SignedURLTTL is how long a resolved receipt link stays valid.
const SignedURLTTL = 7 * 24 * time.Hour

// Resolver maps receipt references to display URLs. A reference is either
// a bare object path or a full storage URL left over from older records;
// both resolve to a fresh signed URL. Resolution never fails: when signing
// is impossible the raw reference is returned as-is, so a rendered page
// degrades to a possibly-stale link instead of an error.
type Resolver struct {
	signer objstore.Signer
	urls   *cache.LRU[string]
}

func NewResolver(signer objstore.Signer) *Resolver {
	// Cached URLs expire well before the signature does, so a served link
	// always has most of its validity window left.
	return &Resolver{
		signer: signer,
		urls:   cache.NewLRU[string](512, SignedURLTTL/2),
	}
}

// CleanExpired drops expired cached URLs; the cache manager calls this
// periodically.
func (r *Resolver) CleanExpired() int {
	return r.urls.CleanExpired()
}

// ResolveForDisplay returns a URL for the given reference, or "" for an
// empty reference.
func (r *Resolver) ResolveForDisplay(ctx context.Context, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	if cached, ok := r.urls.Get(ref); ok {
		return cached
	}

	path := objectPath(ref)
	if path == "" {
		return ref
	}

	signed, err := r.signer.SignedURL(ctx, path, SignedURLTTL)
	if err != nil {
		slog.WarnContext(ctx, "Failed to sign receipt url, serving raw reference",
			applog.FieldComponent, applog.ComponentReceipts,
			applog.FieldOperation, applog.OpResolve,
			applog.FieldReceiptRef, ref,
			applog.FieldError, err)
		return ref
	}

	r.urls.Set(ref, signed)
	return signed
}

// objectPath extracts the object path from a reference. Full storage URLs
// keep everything after the bucket segment; plain paths pass through.
func objectPath(ref string) string {
	if !strings.Contains(ref, "://") {
		return strings.TrimPrefix(ref, "/")
	}

	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	// URL path is /<bucket>/<object...>
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return ""
	}
	return parts[1]
}
