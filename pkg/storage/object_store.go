package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned for missing objects and for names that are not a
// plain base name.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Size        int64
	ModTime     time.Time
	ContentType string
}

// ObjectStore provides read access to book assets.
type ObjectStore interface {
	Open(ctx context.Context, name string) (io.ReadSeekCloser, ObjectInfo, error)
	Exists(ctx context.Context, name string) (bool, error)
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore connects to MinIO and ensures the bucket exists. Object keys
// are prefix + name.
func NewMinioStore(endpoint, accessKey, secretKey, bucket, prefix string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Open returns a seekable reader over the object.
func (m *MinioStore) Open(ctx context.Context, name string) (io.ReadSeekCloser, ObjectInfo, error) {
	key, ok := m.key(name)
	if !ok {
		return nil, ObjectInfo{}, ErrNotFound
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("get object: %w", err)
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isMissing(err) {
			return nil, ObjectInfo{}, ErrNotFound
		}
		return nil, ObjectInfo{}, fmt.Errorf("stat object: %w", err)
	}
	return obj, ObjectInfo{Size: stat.Size, ModTime: stat.LastModified, ContentType: stat.ContentType}, nil
}

// Exists reports whether the object is present.
func (m *MinioStore) Exists(ctx context.Context, name string) (bool, error) {
	key, ok := m.key(name)
	if !ok {
		return false, nil
	}
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isMissing(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

func (m *MinioStore) key(name string) (string, bool) {
	name, ok := baseName(name)
	if !ok {
		return "", false
	}
	if m.prefix == "" {
		return name, true
	}
	return m.prefix + "/" + name, true
}

func isMissing(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}

// baseName accepts only a plain file name: no directories, no dot-files.
func baseName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return name, true
}
