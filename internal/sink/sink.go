// Package sink moves batch files into object storage.
package sink

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"mongobq/internal/config"
)

// Sink stores batch files and lists what has been stored.
type Sink interface {
	Upload(ctx context.Context, localPath, objectName string) (string, error)
	// List returns the URIs of objects whose names start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	Bucket() string
}

// New builds the sink named by SINK_PROVIDER and checks that its bucket is
// reachable. Any error here is a setup failure.
func New(ctx context.Context, cfg config.Config, retry Retry) (Sink, error) {
	if err := cfg.Require("BUCKET_NAME", cfg.BucketName); err != nil {
		return nil, err
	}
	switch cfg.SinkProvider {
	case "", "gcs":
		return NewGCS(ctx, GCSOptions{
			Bucket:          cfg.BucketName,
			CredentialsFile: cfg.GoogleCredentials,
			Retry:           retry,
		})
	case "s3":
		if err := cfg.Require("S3_ENDPOINT", cfg.S3Endpoint); err != nil {
			return nil, err
		}
		return NewS3(ctx, S3Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			Bucket:    cfg.BucketName,
			Retry:     retry,
		})
	default:
		return nil, fmt.Errorf("unsupported sink provider: %s", cfg.SinkProvider)
	}
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return "application/x-ndjson"
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
