// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-imgtransform.
//
// go-imgtransform is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package client

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for transient failures.
type RetryConfig struct {
	// Enabled controls whether retries are enabled
	Enabled bool

	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int

	// InitialBackoff is the initial backoff duration (default: 100ms)
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration (default: 5s)
	MaxBackoff time.Duration
}

// retryWrapper wraps an operation with retry logic using exponential backoff with jitter.
// It returns the result of the operation or the last error encountered.
func retryWrapper[T any](ctx context.Context, config *RetryConfig, operation func() (T, error)) (T, error) {
	var zero T

	if config == nil || !config.Enabled {
		return operation()
	}

	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	initialBackoff := config.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 100 * time.Millisecond
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, ctx.Err()
		default:
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == maxRetries || !isRetryable(err) {
			break
		}

		select {
		case <-ctx.Done():
			return zero, lastErr
		case <-time.After(calculateBackoff(attempt, initialBackoff, maxBackoff)):
		}
	}

	return zero, lastErr
}

// isRetryable reports whether err is a transient failure. Client errors and
// cancellations are final.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTemporaryFailure) || errors.Is(err, ErrConnectionFailed)
}

// calculateBackoff computes the backoff duration for a given attempt using
// exponential backoff with full jitter.
func calculateBackoff(attempt int, initial, maxBackoff time.Duration) time.Duration {
	backoff := float64(initial) * math.Pow(2, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(rand.Float64() * backoff) // #nosec G404 -- jitter does not need a secure source
}
