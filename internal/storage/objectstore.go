// Package storage keeps the PDF bytes in an S3-compatible store. Pending
// documents live under pending/, fully signed ones are relocated to
// signed/ where the retention policy is longer.
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const (
	pendingPrefix = "pending/"
	signedPrefix  = "signed/"

	contentTypePDF = "application/pdf"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type ObjectStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

func NewObjectStore(ctx context.Context, logger *zap.Logger, cfg Config) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.New("failed to create the object store client: " + err.Error())
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.New("failed to check the bucket: " + err.Error())
	}
	if !exists {
		return nil, errors.New("bucket does not exist: " + cfg.Bucket)
	}

	return &ObjectStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// PendingKey is where a freshly created document's file goes.
func PendingKey(docID string) string {
	return pendingPrefix + docID + ".pdf"
}

func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, sha256Hex string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentTypePDF,
		UserMetadata: map[string]string{"sha256hex": sha256Hex},
	})
	if err != nil {
		return errors.New("failed to store the object: " + err.Error())
	}

	return nil
}

func (s *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.New("failed to get the object: " + err.Error())
	}
	return obj, nil
}

func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errors.New("failed to delete the object: " + err.Error())
	}
	return nil
}

// Relocate moves a blob from the pending area to the signed area and
// returns its new key. Idempotent for keys already relocated.
func (s *ObjectStore) Relocate(ctx context.Context, key string) (string, error) {
	if len(key) < len(pendingPrefix) || key[:len(pendingPrefix)] != pendingPrefix {
		return key, nil
	}
	newKey := signedPrefix + key[len(pendingPrefix):]

	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: newKey},
		minio.CopySrcOptions{Bucket: s.bucket, Object: key},
	)
	if err != nil {
		return "", errors.New("failed to copy the object: " + err.Error())
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		// the copy succeeded, the document is safe under the new key
		s.logger.Warn("failed to remove the relocated object", zap.String("key", key), zap.Error(err))
	}

	return newKey, nil
}

// PresignedGetURL returns a short-lived download link for the object.
func (s *ObjectStore) PresignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-type", contentTypePDF)

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, params)
	if err != nil {
		return "", errors.New("failed to presign the object URL: " + err.Error())
	}

	return u.String(), nil
}
