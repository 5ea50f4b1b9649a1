// Package ratelimit provides a key-scoped rate limiter used to throttle
// override-grant churn during an incident.
package ratelimit

import "context"

// Limiter decides whether an action keyed by key may proceed right now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// NoopLimiter always allows. Used when rate limiting is disabled.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }
func (NoopLimiter) Close() error                                { return nil }
