package storage

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/listingreels/internal/logger"
)

const (
	// Retry configuration
	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

var log = logger.For("storage")

// attemptFunc performs one attempt. retry=false stops the loop with err.
type attemptFunc func(ctx context.Context) (retry bool, err error)

// withRetry runs fn until it succeeds, returns a non-retryable error, or the
// retry budget is spent. Waits between attempts use exponential backoff with
// jitter and give up as soon as ctx is done.
func withRetry(ctx context.Context, op, target string, delay func(int) time.Duration, fn attemptFunc) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := delay(attempt)
			log.WithFields(map[string]interface{}{
				"op":      op,
				"target":  target,
				"attempt": attempt,
				"wait":    wait.String(),
			}).Warn("retrying")

			select {
			case <-ctx.Done():
				return fmt.Errorf("%s cancelled: %w", op, ctx.Err())
			case <-time.After(wait):
			}
		}

		retry, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				log.WithField("op", op).WithField("target", target).Infof("succeeded on attempt %d", attempt+1)
			}
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries+1, lastErr)
}

// retryDelay calculates exponential backoff with jitter: base * 2^(attempt-1) + 0-25%
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryableError checks if a network-level error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
