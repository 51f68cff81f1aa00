// Package objstore implements the remote storage backend over a
// MinIO/S3-compatible object store.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tonimelisma/notesync/internal/sync"
)

// Options configures the object-store connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string // optional key prefix scoping all operations
	UseSSL    bool
}

// Client is the MinIO-backed implementation of the engine's Backend
// interface. Note paths map to object keys under the configured prefix.
type Client struct {
	mc     *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// New connects to the object store and verifies the bucket exists.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("objstore: endpoint and bucket are required")
	}

	mc, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, classify("connect to object store", err)
	}

	exists, err := mc.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, classify("check bucket", err)
	}

	if !exists {
		return nil, errors.New("objstore: bucket " + opts.Bucket + " does not exist")
	}

	logger.Info("connected to object store",
		"endpoint", opts.Endpoint, "bucket", opts.Bucket, "prefix", opts.Prefix)

	return &Client{mc: mc, bucket: opts.Bucket, prefix: opts.Prefix, logger: logger}, nil
}

// UploadFile writes content under the object key for path.
func (c *Client) UploadFile(ctx context.Context, path string, content []byte) error {
	key := c.key(path)

	c.logger.Debug("uploading object", "key", key, "bytes", len(content))

	_, err := c.mc.PutObject(ctx, c.bucket, key,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "text/markdown"})
	if err != nil {
		return classify("upload "+key, err)
	}

	return nil
}

// DownloadFile fetches the object for path. Missing objects surface as
// the engine's ErrRemoteNotFound sentinel.
func (c *Client) DownloadFile(ctx context.Context, path string) ([]byte, error) {
	key := c.key(path)

	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("download "+key, err)
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify("download "+key, err)
	}

	return content, nil
}

// DeleteFile removes the object for path. Deleting a missing object
// reports ErrRemoteNotFound; callers treating it as success check the
// sentinel.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	key := c.key(path)

	exists, err := c.FileExists(ctx, path)
	if err != nil {
		return err
	}

	if !exists {
		return sync.ErrRemoteNotFound
	}

	c.logger.Debug("deleting object", "key", key)

	if err := c.mc.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classify("delete "+key, err)
	}

	return nil
}

// FileExists stats the object for path.
func (c *Client) FileExists(ctx context.Context, path string) (bool, error) {
	_, err := c.mc.StatObject(ctx, c.bucket, c.key(path), minio.StatObjectOptions{})
	if err != nil {
		classified := classify("stat "+c.key(path), err)
		if errors.Is(classified, sync.ErrRemoteNotFound) {
			return false, nil
		}

		return false, classified
	}

	return true, nil
}

// ListFiles returns the note paths of all objects under prefix.
func (c *Client) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	return c.list(ctx, prefix, false)
}

// ListFolders returns the common prefixes (folder paths) under prefix.
func (c *Client) ListFolders(ctx context.Context, prefix string) ([]string, error) {
	return c.list(ctx, prefix, true)
}

func (c *Client) list(ctx context.Context, prefix string, folders bool) ([]string, error) {
	listPrefix := c.key(prefix)
	if folders && listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}

	var out []string

	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: !folders,
	}) {
		if obj.Err != nil {
			return nil, classify("list "+listPrefix, obj.Err)
		}

		isFolder := strings.HasSuffix(obj.Key, "/")
		if isFolder != folders {
			continue
		}

		out = append(out, c.path(obj.Key))
	}

	return out, nil
}

// key maps a note path to its object key under the configured prefix.
func (c *Client) key(path string) string {
	if c.prefix == "" {
		return path
	}

	return strings.TrimSuffix(c.prefix, "/") + "/" + strings.TrimPrefix(path, "/")
}

// path maps an object key back to a note path.
func (c *Client) path(key string) string {
	if c.prefix == "" {
		return key
	}

	return strings.TrimPrefix(strings.TrimPrefix(key, strings.TrimSuffix(c.prefix, "/")), "/")
}

// classify maps a MinIO error onto the engine's error taxonomy: missing
// keys become ErrRemoteNotFound, transport failures network-kind errors,
// everything else storage-kind.
func classify(msg string, err error) error {
	if err == nil {
		return nil
	}

	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchKey", "NoSuchObject":
			return sync.ErrRemoteNotFound
		}

		return sync.StorageError(msg, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return sync.NetworkError(msg, err)
	}

	return sync.StorageError(msg, err)
}

// Compile-time interface check.
var _ sync.Backend = (*Client)(nil)
