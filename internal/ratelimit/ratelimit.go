// Package ratelimit throttles outbound requests to the workbench backend.
//
// Status polling from many concurrent observers can add up quickly; the
// limiter keeps the client a polite neighbour without changing any poll
// semantics. A limiter error or cancelled wait surfaces as a transport error.
package ratelimit

import "context"

// Limiter blocks until a request identified by key may proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Wait blocks until the request may proceed or ctx is done.
	// The key is opaque; callers construct it (e.g. "GET /workbench/runs").
	Wait(ctx context.Context, key string) error

	// Close releases resources (cleanup goroutines).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Wait never blocks.
func (NoopLimiter) Wait(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
