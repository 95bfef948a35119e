package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	retries := 0
	r := Retry{Attempts: 4, OnRetry: func(int, error) { retries++ }, sleep: noSleep}
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &googleapi.Error{Code: 503}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	r := Retry{Attempts: 3, sleep: noSleep}
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return &googleapi.Error{Code: 429}
	})
	var gerr *googleapi.Error
	assert.True(t, errors.As(err, &gerr))
	assert.Equal(t, 3, calls)
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	r := Retry{Attempts: 5, sleep: noSleep}
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return &googleapi.Error{Code: 403}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Retry{Attempts: 5, Base: time.Hour}
	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return &googleapi.Error{Code: 500}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gcs 503", err: fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 503}), want: true},
		{name: "gcs 404", err: &googleapi.Error{Code: 404}, want: false},
		{name: "s3 500", err: minio.ErrorResponse{StatusCode: 500, Code: "InternalError"}, want: true},
		{name: "s3 access denied", err: minio.ErrorResponse{StatusCode: 403, Code: "AccessDenied"}, want: false},
		{name: "network", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, want: true},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "plain", err: errors.New("disk full"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/x-ndjson", contentType("/tmp/export_batch_1_20240101_000000.jsonl"))
	assert.Equal(t, "application/vnd.apache.parquet", contentType("a.PARQUET"))
	assert.Equal(t, "application/octet-stream", contentType("a.bin"))
}
