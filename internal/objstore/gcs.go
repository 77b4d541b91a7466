package objstore

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gstorage "google.golang.org/api/storage/v1"
)

// GCSStore keeps receipt objects in a Google Cloud Storage bucket. Signed
// URLs use the service account's private key, so the same credentials that
// authenticate API calls also sign download links.
type GCSStore struct {
	svc        *gstorage.Service
	bucket     string
	signerMail string
	signerKey  *rsa.PrivateKey
}

var _ Store = (*GCSStore)(nil)

// NewGCSFromEnv creates a GCS-backed store using Service Account
// credentials from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE,
// or GOOGLE_APPLICATION_CREDENTIALS.
func NewGCSFromEnv(ctx context.Context, bucket string) (*GCSStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("missing GCS bucket name")
	}

	credentialsJSON, err := readServiceAccountJSON()
	if err != nil {
		return nil, err
	}

	svc, err := gstorage.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gstorage.DevstorageReadWriteScope))
	if err != nil {
		return nil, fmt.Errorf("create storage service: %w", err)
	}

	mail, key, err := parseSigningCredentials(credentialsJSON)
	if err != nil {
		return nil, fmt.Errorf("parse signing credentials: %w", err)
	}

	slog.InfoContext(ctx, "GCS store ready", "bucket", bucket, "signer", mail)

	return &GCSStore{
		svc:        svc,
		bucket:     bucket,
		signerMail: mail,
		signerKey:  key,
	}, nil
}

func readServiceAccountJSON() ([]byte, error) {
	if inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")); inline != "" {
		return []byte(inline), nil
	}
	file := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if file == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return data, nil
}

func parseSigningCredentials(credentialsJSON []byte) (string, *rsa.PrivateKey, error) {
	var sa struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(credentialsJSON, &sa); err != nil {
		return "", nil, fmt.Errorf("decode credentials: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return "", nil, errors.New("credentials missing client_email or private_key")
	}

	block, _ := pem.Decode([]byte(sa.PrivateKey))
	if block == nil {
		return "", nil, errors.New("private_key is not PEM encoded")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Older service accounts carry PKCS#1 keys.
		key, err1 := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err1 != nil {
			return "", nil, fmt.Errorf("parse private key: %w", err)
		}
		return sa.ClientEmail, key, nil
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return "", nil, errors.New("private_key is not RSA")
	}
	return sa.ClientEmail, key, nil
}

func (s *GCSStore) Upload(ctx context.Context, path string, data []byte) error {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return ErrEmptyPath
	}

	obj := &gstorage.Object{Name: path}
	_, err := s.svc.Objects.Insert(s.bucket, obj).
		Media(bytes.NewReader(data)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("insert object %s: %w", path, err)
	}

	slog.DebugContext(ctx, "Uploaded object", "bucket", s.bucket, "path", path, "size", len(data))
	return nil
}

// SignedURL builds a V2 signed URL: the service account key signs
// "GET\n\n\n<expires>\n/<bucket>/<object>" and the signature travels as a
// query parameter.
func (s *GCSStore) SignedURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", ErrEmptyPath
	}

	expires := time.Now().Add(ttl).Unix()
	resource := fmt.Sprintf("/%s/%s", s.bucket, path)
	payload := fmt.Sprintf("GET\n\n\n%d\n%s", expires, resource)

	digest := sha256.Sum256([]byte(payload))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.signerKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}

	q := url.Values{}
	q.Set("GoogleAccessId", s.signerMail)
	q.Set("Expires", fmt.Sprintf("%d", expires))
	q.Set("Signature", base64.StdEncoding.EncodeToString(sig))

	return fmt.Sprintf("https://storage.googleapis.com%s?%s",
		urlEscapeResource(resource), q.Encode()), nil
}

func (s *GCSStore) PublicURL(path string) string {
	path = strings.TrimPrefix(path, "/")
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, urlEscapePath(path))
}

func urlEscapeResource(resource string) string {
	return "/" + urlEscapePath(strings.TrimPrefix(resource, "/"))
}
