package sink

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/storage/v1"

	"mongobq/internal/gcp"
)

type GCSOptions struct {
	Bucket string
	// CredentialsFile is a service account key; empty uses application
	// default credentials.
	CredentialsFile string
	Retry           Retry
}

type GCS struct {
	service *storage.Service
	bucket  string
	retry   Retry
}

func NewGCS(ctx context.Context, opts GCSOptions) (*GCS, error) {
	clientOpt, err := gcp.ClientOption(ctx, opts.CredentialsFile, storage.DevstorageReadWriteScope)
	if err != nil {
		return nil, err
	}
	svc, err := storage.NewService(ctx, clientOpt)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	if _, err := svc.Buckets.Get(opts.Bucket).Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("gcs bucket %s: %w", opts.Bucket, err)
	}
	return &GCS{service: svc, bucket: opts.Bucket, retry: opts.Retry}, nil
}

func (g *GCS) Bucket() string { return g.bucket }

func (g *GCS) Upload(ctx context.Context, localPath, objectName string) (string, error) {
	err := g.retry.Do(ctx, func(ctx context.Context) error {
		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer f.Close()
		obj := &storage.Object{Name: objectName, ContentType: contentType(localPath)}
		_, err = g.service.Objects.Insert(g.bucket, obj).
			Media(f, googleapi.ContentType(obj.ContentType)).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to gs://%s/%s: %w", localPath, g.bucket, objectName, err)
	}
	return g.uri(objectName), nil
}

func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := g.service.Objects.List(g.bucket).Prefix(prefix).Pages(ctx, func(page *storage.Objects) error {
		for _, obj := range page.Items {
			out = append(out, g.uri(obj.Name))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list gs://%s/%s: %w", g.bucket, prefix, err)
	}
	return out, nil
}

func (g *GCS) uri(name string) string {
	return "gs://" + g.bucket + "/" + name
}
