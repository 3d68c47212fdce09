package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"garminsync/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror copies fetched activity payloads to an S3-compatible bucket. It is
// best-effort: callers log mirror failures and keep going.
type Mirror struct {
	client  *minio.Client
	bucket  string
	prefix  string
	fileExt string
}

// NewMirror creates a mirror from archive configuration
func NewMirror(cfg config.Archive, fileExt string) (*Mirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid archive endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, err
	}

	if fileExt == "" {
		fileExt = ".fit"
	}

	return &Mirror{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		fileExt: fileExt,
	}, nil
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port format
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	// If endpoint doesn't have protocol, add nothing and require host:port
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, nil
}

// Put stores one payload under activity_{id}{ext}
func (m *Mirror) Put(ctx context.Context, id string, payload []byte) error {
	key := fmt.Sprintf("activity_%s%s", id, m.fileExt)
	if m.prefix != "" {
		key = m.prefix + "/" + key
	}

	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}
