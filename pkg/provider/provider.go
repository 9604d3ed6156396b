// Package provider implements HTTP clients for the external embedding and
// reranking services, with a shared multi-key failover policy: a call tries
// at most three keys, retries transient failures per key with exponential
// backoff, and evicts keys the provider rejects as invalid.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Common errors returned by provider clients.
var (
	ErrEmptyInput = errors.New("empty input text")
	ErrNoKeys     = errors.New("no provider API keys available")
	ErrProvider   = errors.New("provider request failed")
)

const (
	maxKeysPerCall   = 3
	maxRetriesPerKey = 2
	backoffBase      = 1000 * time.Millisecond
	backoffCap       = 3000 * time.Millisecond
	attemptTimeout   = 7 * time.Second
)

// failureClass buckets a provider error for the retry loop.
type failureClass int

const (
	failKeyInvalid failureClass = iota
	failRetryable
	failFatal
)

// apiError carries the HTTP status and response body of a failed call.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("provider API error: status %d: %s", e.status, truncate(e.body, 200))
}

// classify maps an attempt error to a failure class.
//
// Key-invalid: 401/403, or a body naming the key as the problem.
// Retryable: 503/504, timeouts, and transport resets.
// Everything else is fatal and surfaces as a provider error.
func classify(err error) failureClass {
	var ae *apiError
	if errors.As(err, &ae) {
		body := strings.ToLower(ae.body)
		if ae.status == 401 || ae.status == 403 ||
			strings.Contains(body, "unauthorized") ||
			strings.Contains(body, "invalid api key") {
			return failKeyInvalid
		}
		if ae.status == 503 || ae.status == 504 {
			return failRetryable
		}
		return failFatal
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return failRetryable
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failRetryable
	}
	// Connection resets and similar transport failures arrive as
	// *net.OpError or url.Error wrapping one.
	var oe *net.OpError
	if errors.As(err, &oe) {
		return failRetryable
	}
	return failRetryable
}

// backoff returns the sleep before retry n (0-based): base·2^n capped.
func backoff(n int) time.Duration {
	d := backoffBase << n
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// doWithFailover runs attempt under the shared failover policy. attempt
// receives a per-try context bounded by attemptTimeout and the key to use.
func doWithFailover(ctx context.Context, pool *KeyPool, attempt func(ctx context.Context, key string) error) error {
	keys := pool.Snapshot()
	if len(keys) == 0 {
		return ErrNoKeys
	}
	if len(keys) > maxKeysPerCall {
		keys = keys[:maxKeysPerCall]
	}

	var lastErr error
	for _, key := range keys {
		for try := 0; ; try++ {
			tryCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
			err := attempt(tryCtx, key)
			cancel()
			if err == nil {
				return nil
			}
			lastErr = err

			if ctx.Err() != nil {
				return ctx.Err()
			}

			switch classify(err) {
			case failKeyInvalid:
				pool.Evict(ctx, key)
			case failRetryable:
				if try < maxRetriesPerKey {
					select {
					case <-time.After(backoff(try)):
						continue
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			case failFatal:
				return fmt.Errorf("%w: %v", ErrProvider, err)
			}
			break // next key
		}
	}

	return fmt.Errorf("%w: all keys exhausted: %v", ErrProvider, lastErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
