package objstore

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(t.TempDir(), []byte("test-secret"))
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	return store
}

func TestDiskStoreUploadAndOpen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data := []byte("fake pdf bytes")
	if err := store.Upload(ctx, "user-1/receipt.pdf", data); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	got, err := store.Open("user-1/receipt.pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("Open returned %q, want %q", got, data)
	}
}

func TestDiskStoreRejectsEscapingPaths(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, path := range []string{"", "../outside", "a/../../outside"} {
		if err := store.Upload(ctx, path, []byte("x")); err == nil {
			t.Errorf("Upload(%q) succeeded, want error", path)
		}
	}
}

func TestDiskStoreSignedURLRoundTrip(t *testing.T) {
	store := newTestStore(t)

	signed, err := store.SignedURL(context.Background(), "user-1/receipt.pdf", time.Hour)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if !strings.HasPrefix(signed, "/receipts/user-1/receipt.pdf?") {
		t.Fatalf("unexpected url shape: %s", signed)
	}

	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse signed url: %v", err)
	}
	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil {
		t.Fatalf("parse expires: %v", err)
	}

	path := strings.TrimPrefix(u.Path, "/receipts/")
	if err := store.Verify(path, expires, u.Query().Get("sig")); err != nil {
		t.Fatalf("Verify rejected a freshly signed url: %v", err)
	}
}

func TestDiskStoreVerifyRejectsTamperedSignature(t *testing.T) {
	store := newTestStore(t)

	expires := time.Now().Add(time.Hour).Unix()
	if err := store.Verify("user-1/receipt.pdf", expires, "deadbeef"); !errors.Is(err, ErrNotSigned) {
		t.Fatalf("Verify = %v, want ErrNotSigned", err)
	}
}

func TestDiskStoreVerifyRejectsExpired(t *testing.T) {
	store := newTestStore(t)

	expires := time.Now().Add(-time.Minute).Unix()
	sig := store.sign("user-1/receipt.pdf", expires)
	if err := store.Verify("user-1/receipt.pdf", expires, sig); !errors.Is(err, ErrURLExpired) {
		t.Fatalf("Verify = %v, want ErrURLExpired", err)
	}
}

func TestDiskStorePublicURL(t *testing.T) {
	store := newTestStore(t)

	if got := store.PublicURL("user-1/a receipt.pdf"); got != "/receipts/user-1/a%20receipt.pdf" {
		t.Fatalf("PublicURL = %q", got)
	}
}

func TestNewDiskStoreRequiresSecret(t *testing.T) {
	if _, err := NewDiskStore(t.TempDir(), nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
