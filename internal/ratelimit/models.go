package ratelimit

import (
	"context"
	"time"
)

// Policy is the per-client request budget.
type Policy struct {
	Requests int
	Window   time.Duration
	// BlockAfter is the number of requests within one window that puts a
	// client on the blocklist. Zero means twice Requests.
	BlockAfter int
	BlockFor   time.Duration
}

// DefaultPolicy allows 100 requests per client every 15 minutes.
var DefaultPolicy = Policy{
	Requests: 100,
	Window:   15 * time.Minute,
	BlockFor: time.Hour,
}

// Result is the outcome of one Check.
type Result struct {
	Allowed   bool
	Blocked   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is in whole seconds and only set when the request is refused.
	RetryAfter int
}

// Store keeps a sliding window of request times per client and the dynamic
// blocklist. Keys are client addresses.
type Store interface {
	// Hit records a request at now and returns how many requests fall in
	// (now-window, now], together with the oldest of them.
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (count int, oldest time.Time, err error)
	Block(ctx context.Context, key string, now time.Time, d time.Duration) error
	BlockedUntil(ctx context.Context, key string, now time.Time) (until time.Time, blocked bool, err error)
}
