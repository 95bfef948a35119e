package sink

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configure an S3-compatible store such as MinIO.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Retry     Retry
}

type S3 struct {
	client *minio.Client
	bucket string
	retry  Retry
}

func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	exists, err := cli.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("s3 bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("s3 bucket %s does not exist", opts.Bucket)
	}
	return &S3{client: cli, bucket: opts.Bucket, retry: opts.Retry}, nil
}

func (s *S3) Bucket() string { return s.bucket }

func (s *S3) Upload(ctx context.Context, localPath, objectName string) (string, error) {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.client.FPutObject(ctx, s.bucket, objectName, localPath, minio.PutObjectOptions{
			ContentType: contentType(localPath),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to s3://%s/%s: %w", localPath, s.bucket, objectName, err)
	}
	return s.uri(objectName), nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, obj.Err)
		}
		out = append(out, s.uri(obj.Key))
	}
	return out, nil
}

func (s *S3) uri(name string) string {
	return "s3://" + s.bucket + "/" + name
}
