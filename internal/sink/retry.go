package sink

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/minio/minio-go/v7"
	"google.golang.org/api/googleapi"
)

// Retry re-runs an operation on transient failures with exponential backoff
// and jitter.
type Retry struct {
	// Attempts counts the first call; values below 1 mean a single call.
	Attempts int
	Base     time.Duration
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

func (r Retry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := r.Base
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts || !IsRetryable(lastErr) {
			break
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, lastErr)
		}
		backoff := base*time.Duration(1<<(attempt-1)) + time.Duration(rand.Intn(100))*time.Millisecond
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsRetryable reports throttling, server-side and network failures.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return isRetryableStatus(gerr.Code)
	}
	if resp := minio.ToErrorResponse(err); resp.StatusCode != 0 {
		return isRetryableStatus(resp.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func isRetryableStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
