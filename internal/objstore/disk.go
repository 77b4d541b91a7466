package objstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DiskStore keeps objects on the local filesystem and serves them back
// through the application's own /receipts route. Signed URLs carry an
// HMAC over path and expiry that the route verifies. This is the default
// backend for development and single-node deployments.
type DiskStore struct {
	baseDir string
	secret  []byte
}

var _ Store = (*DiskStore)(nil)

func NewDiskStore(baseDir string, secret []byte) (*DiskStore, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("disk store requires a signing secret")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &DiskStore{baseDir: baseDir, secret: secret}, nil
}

// cleanPath rejects anything that would escape the base directory.
func (s *DiskStore) cleanPath(path string) (string, error) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", ErrEmptyPath
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, "../") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("path %q escapes store root", path)
	}
	return clean, nil
}

func (s *DiskStore) Upload(_ context.Context, path string, data []byte) error {
	clean, err := s.cleanPath(path)
	if err != nil {
		return err
	}
	target := filepath.Join(s.baseDir, clean)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	return nil
}

// Open returns the stored object bytes.
func (s *DiskStore) Open(path string) ([]byte, error) {
	clean, err := s.cleanPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, clean))
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (s *DiskStore) SignedURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	clean, err := s.cleanPath(path)
	if err != nil {
		return "", err
	}
	expires := time.Now().Add(ttl).Unix()
	sig := s.sign(clean, expires)
	return fmt.Sprintf("/receipts/%s?expires=%d&sig=%s",
		urlEscapePath(clean), expires, sig), nil
}

func (s *DiskStore) PublicURL(path string) string {
	clean, err := s.cleanPath(path)
	if err != nil {
		return path
	}
	return "/receipts/" + urlEscapePath(clean)
}

// Verify checks a signed request produced by SignedURL.
func (s *DiskStore) Verify(path string, expires int64, sig string) error {
	clean, err := s.cleanPath(path)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(s.sign(clean, expires)), []byte(sig)) {
		return ErrNotSigned
	}
	if time.Now().Unix() > expires {
		return ErrURLExpired
	}
	return nil
}

func (s *DiskStore) sign(path string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(path))
	mac.Write([]byte("\n"))
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func urlEscapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
