package ratelimit

import "context"

// RateLimiter is the interface for rate limiting operations.
//
// The interface is storage-agnostic, allowing implementations backed by
// Redis, in-memory stores, or other backends.
type RateLimiter interface {
	// Allow checks if a request identified by key is allowed under config
	// and consumes one token when it is.
	Allow(ctx context.Context, key string, config Config) (Result, error)
}
