package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"staybook/internal/app/policies"
)

// Archive writes audit artifacts (raw webhook bodies, refund decisions) to
// an S3-compatible bucket. The bucket stays private. Objects are written
// with an MD5 so a truncated upload is rejected by the server.
type Archive struct {
	bucket string
	client *minio.Client
	logger *slog.Logger

	mu    sync.Mutex
	ready bool
}

func NewArchive(endpoint string, useSSL bool, accessKey, secretKey, bucket string, logger *slog.Logger) (*Archive, error) {
	cleanEndpoint := strings.TrimSpace(endpoint)
	if cleanEndpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	client, err := minio.New(parseEndpoint(cleanEndpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(accessKey), strings.TrimSpace(secretKey), ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	return &Archive{bucket: bucket, client: client, logger: logger}, nil
}

func (a *Archive) Put(ctx context.Context, key string, body []byte, contentType string) error {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return errors.New("s3: object key is required")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:    contentType,
		SendContentMd5: true,
		UserMetadata:   map[string]string{"origin": "staybook-audit"},
	})
	if err != nil {
		return fmt.Errorf("s3: put %s: %w", key, err)
	}
	if a.logger != nil {
		a.logger.Debug("audit object stored", "bucket", a.bucket, "key", key, "bytes", info.Size, "etag", info.ETag)
	}
	return nil
}

// Ping reports whether the bucket is reachable, for readiness checks.
func (a *Archive) Ping(ctx context.Context) error {
	_, err := a.client.BucketExists(ctx, a.bucket)
	return err
}

// ensureBucket creates the bucket on first use. A failed attempt is not
// cached, so the next Put tries again.
func (a *Archive) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return nil
	}
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("s3: check bucket: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("s3: create bucket: %w", err)
		}
		if a.logger != nil {
			a.logger.Info("audit bucket created", "bucket", a.bucket)
		}
	}
	a.ready = true
	return nil
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

var _ policies.AuditArchive = (*Archive)(nil)
