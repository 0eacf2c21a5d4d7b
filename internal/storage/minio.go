package storage

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/internal/model"
)

// Minio reads quotes from an S3-compatible bucket.
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio connects to the configured endpoint and checks that the bucket
// exists. The bucket is owned by the upload service, so it is never created
// here.
func NewMinio(ctx context.Context, cfg config.StorageConfig) (*Minio, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "storage: minio client")
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: check bucket %s", cfg.Bucket)
	}
	if !exists {
		return nil, eris.Errorf("storage: bucket %s does not exist", cfg.Bucket)
	}

	return &Minio{client: cli, bucket: cfg.Bucket}, nil
}

// Download fetches the object at p.
func (m *Minio) Download(ctx context.Context, p string) (*Object, error) {
	key, err := cleanPath(p)
	if err != nil {
		return nil, err
	}

	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, model.UpstreamError("Le fichier du devis n'a pas pu être téléchargé.", eris.Wrapf(err, "storage: get %s", key))
	}
	defer obj.Close() //nolint:errcheck

	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, notFound(key)
		}
		return nil, model.UpstreamError("Le fichier du devis n'a pas pu être téléchargé.", eris.Wrapf(err, "storage: stat %s", key))
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, model.UpstreamError("Le fichier du devis n'a pas pu être téléchargé.", eris.Wrapf(err, "storage: read %s", key))
	}

	mt := info.ContentType
	if mt == "" || mt == "application/octet-stream" || mt == "binary/octet-stream" {
		mt = DetectMime(key, data)
	}

	zap.L().Debug("storage: downloaded object",
		zap.String("bucket", m.bucket),
		zap.String("key", key),
		zap.Int64("size", info.Size),
	)

	return &Object{Path: key, Name: path.Base(key), MimeType: mt, Data: data}, nil
}

// Upload stores data at p.
func (m *Minio) Upload(ctx context.Context, p string, data []byte, mimeType string) error {
	key, err := cleanPath(p)
	if err != nil {
		return err
	}
	if mimeType == "" {
		mimeType = DetectMime(key, data)
	}
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	return eris.Wrapf(err, "storage: put %s", key)
}
