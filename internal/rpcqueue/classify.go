package rpcqueue

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/chainindex/syncengine/pkg/models"
)

// classify wraps a raw transport error into models.RetryableRPCError or
// models.NonRetryableRPCError (spec.md §4.1, §7). Network errors,
// timeouts, and server-side rate-limit/5xx responses are retryable;
// malformed requests and unsupported methods are not.
func classify(method string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &models.RetryableRPCError{Method: method, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &models.RetryableRPCError{Method: method, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "request failed"):
		return &models.RetryableRPCError{Method: method, Err: err}
	case strings.Contains(msg, "invalid params"),
		strings.Contains(msg, "invalid argument"),
		strings.Contains(msg, "method not found"),
		strings.Contains(msg, "not supported"):
		return &models.NonRetryableRPCError{Method: method, Err: err}
	}

	// Generic 5xx-style server errors are retryable; everything else we
	// haven't seen before is treated as retryable too, since a wrongly
	// retried permanent error only costs time, while a wrongly abandoned
	// transient one costs correctness.
	return &models.RetryableRPCError{Method: method, Err: err}
}

// isRetryable reports whether err (already classified by classify) should
// be retried by the backoff loop.
func isRetryable(err error) bool {
	var retryable *models.RetryableRPCError
	return errors.As(err, &retryable)
}
