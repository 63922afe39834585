package workflow

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/mmdatafocus/serviceengine_backend/config"
)

// GCSArchiver writes signed agreements to a Cloud Storage bucket.
type GCSArchiver struct {
	client *storage.Client
	bucket string
}

func NewGCSArchiver(ctx context.Context, bucket string) (*GCSArchiver, error) {
	client, err := config.NewStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("gcs bucket %q not found or not accessible: %w", bucket, err)
	}
	return &GCSArchiver{client: client, bucket: bucket}, nil
}

// Archive creates objectName only if it does not exist yet, so a signed
// agreement is never overwritten.
func (a *GCSArchiver) Archive(ctx context.Context, objectName string, contentType string, data []byte) error {
	obj := a.client.Bucket(a.bucket).Object(objectName).If(storage.Conditions{DoesNotExist: true})
	wc := obj.NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return err
	}
	return wc.Close()
}

func (a *GCSArchiver) Close() error {
	return a.client.Close()
}
