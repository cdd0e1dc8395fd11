// Package minio provides an archive.Sink backed by MinIO or any
// S3-compatible object store.
package minio

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/branchfs/branchfs/archive"
)

// Sink stores archives in a MinIO bucket.
type Sink struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewSink creates a MinIO-backed sink. rootPrefix is prepended to all
// keys (e.g. "branchfs/").
func NewSink(client *minio.Client, bucket, rootPrefix string) *Sink {
	return &Sink{client: client, bucket: bucket, prefix: rootPrefix}
}

func (s *Sink) key(name string) string {
	return path.Join(s.prefix, name)
}

// Put streams one object. Size is unknown, so the client negotiates a
// multipart upload when needed.
func (s *Sink) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(key), r, -1, minio.PutObjectOptions{})
	return err
}

func (s *Sink) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; surface a missing key now rather than on the
	// first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil, archive.ErrNotFound
		}
		return nil, err
	}
	return obj, nil
}

func (s *Sink) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(key), minio.RemoveObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil
		}
		return err
	}
	return nil
}

func (s *Sink) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.key(prefix)
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    full,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, strings.TrimSuffix(s.prefix, "/")+"/"))
	}
	sort.Strings(keys)
	return keys, nil
}
