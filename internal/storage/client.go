package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object exceeds size limit")
)

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

// Object is a fetched input together with the content type it was stored
// with.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
}

type Client struct {
	minio  *minio.Client
	bucket string
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Client{
		minio:  mc,
		bucket: cfg.Bucket,
	}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := c.minio.BucketExists(ctx, c.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}

	return nil
}

// PresignedPutURL lets a client upload a layer directly to the bucket before
// referencing it from a compose manifest.
func (c *Client) PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := c.minio.PresignedPutObject(ctx, c.bucket, objectKey, expiry)
	if err != nil {
		return "", fmt.Errorf("presign put object: %w", err)
	}
	return u.String(), nil
}

// Fetch reads objectKey in full. Objects larger than maxBytes are rejected
// from their metadata before any body is read; maxBytes <= 0 disables the
// check.
func (c *Client) Fetch(ctx context.Context, objectKey string, maxBytes int64) (Object, error) {
	info, err := c.minio.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return Object{}, fmt.Errorf("%w: %s", ErrObjectNotFound, objectKey)
		}
		return Object{}, fmt.Errorf("stat object %s: %w", objectKey, err)
	}
	if maxBytes > 0 && info.Size > maxBytes {
		return Object{}, fmt.Errorf("%w: %s is %d bytes", ErrObjectTooLarge, objectKey, info.Size)
	}

	obj, err := c.minio.GetObject(ctx, c.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, fmt.Errorf("get object %s: %w", objectKey, err)
	}
	defer obj.Close()

	data, err := readLimited(obj, maxBytes)
	if err != nil {
		if isNotFound(err) {
			return Object{}, fmt.Errorf("%w: %s", ErrObjectNotFound, objectKey)
		}
		return Object{}, fmt.Errorf("read object %s: %w", objectKey, err)
	}

	return Object{
		Key:         objectKey,
		Data:        data,
		ContentType: info.ContentType,
	}, nil
}

// readLimited reads r to the end, failing once more than maxBytes arrive.
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrObjectTooLarge
	}
	return data, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject"
}
