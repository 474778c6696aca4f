package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
)

// Mirror copies a completed job's output tree into object storage so a CDN
// or another origin can serve it. It is optional; a nil *Mirror is a
// no-op, which is what runs when no MinIO endpoint is configured.
type Mirror struct {
	client *minio.Client
	bucket string
}

func NewMirror(client *minio.Client, bucket string) *Mirror {
	if client == nil {
		return nil
	}
	return &Mirror{
		client: client,
		bucket: bucket,
	}
}

func (m *Mirror) UploadTree(ctx context.Context, localPath, remotePrefix string) error {
	if m == nil {
		return nil
	}
	return filepath.Walk(localPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relativePath, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}

		objectName := filepath.Join(remotePrefix, relativePath)
		objectName = strings.ReplaceAll(objectName, "\\", "/")

		_, uploadErr := m.client.FPutObject(ctx, m.bucket, objectName, path, minio.PutObjectOptions{})
		return uploadErr
	})
}

func (m *Mirror) RemovePrefix(ctx context.Context, prefix string) error {
	if m == nil {
		return nil
	}
	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix + "/",
		Recursive: true,
	})
	for object := range objects {
		if object.Err != nil {
			return object.Err
		}
		if err := m.client.RemoveObject(ctx, m.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return err
		}
	}
	return nil
}
