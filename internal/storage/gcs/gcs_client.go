package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"docpipe/internal/config"
	"docpipe/internal/domain"
	"docpipe/internal/port"
)

type gcsClient struct {
	bucket *storage.BucketHandle
}

// NewGCSClient creates a Google Cloud Storage backed ObjectStorage.
func NewGCSClient(ctx context.Context, cfg *config.GCSConfig) (port.ObjectStorage, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}
	return &gcsClient{bucket: client.Bucket(cfg.Bucket)}, nil
}

func (c *gcsClient) Put(ctx context.Context, key string, data []byte) error {
	w := c.bucket.Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs put: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs put close: %w", err)
	}
	return nil
}

func (c *gcsClient) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := c.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("gcs get read: %w", err)
	}
	return data, nil
}

func (c *gcsClient) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := c.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("gcs open: %w", err)
	}
	return r, nil
}

func (c *gcsClient) Stat(ctx context.Context, key string) (*port.ObjectInfo, error) {
	attrs, err := c.bucket.Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("gcs attrs: %w", err)
	}
	return &port.ObjectInfo{Size: attrs.Size, ModTime: attrs.Updated}, nil
}

func (c *gcsClient) Delete(ctx context.Context, key string) error {
	err := c.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete: %w", err)
	}
	return nil
}
