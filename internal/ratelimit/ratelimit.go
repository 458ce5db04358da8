// Package ratelimit provides the per-session token buckets that throttle
// publishes and subscriptions.
package ratelimit

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Class names an independently throttled kind of client action.
type Class int

const (
	// ClassPublish throttles EVENT messages.
	ClassPublish Class = iota
	// ClassSubscribe throttles REQ messages.
	ClassSubscribe
)

// String returns the class name used in logs and metrics.
func (c Class) String() string {
	switch c {
	case ClassPublish:
		return "events"
	case ClassSubscribe:
		return "reqs"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Config describes a bucket: Capacity tokens refilled evenly over Rate
// seconds. A non-positive Rate disables limiting.
type Config struct {
	Rate     float64 `yaml:"rate"`
	Capacity int     `yaml:"capacity"`
}

// Limit returns the refill speed in tokens per second.
func (c Config) Limit() rate.Limit {
	if c.Rate <= 0 || c.Capacity <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(c.Capacity) / c.Rate)
}

// Bucket is a token bucket owned by a single session. Buckets start full.
type Bucket struct {
	cfg     Config
	limiter *rate.Limiter
}

// NewBucket returns a full bucket.
func NewBucket(cfg Config) *Bucket {
	return &Bucket{
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.Limit(), cfg.Capacity),
	}
}

// Allow refills the bucket for the time elapsed up to now and then takes one
// token if available. A denied call leaves the token count unchanged.
func (b *Bucket) Allow(now time.Time) bool {
	return b.limiter.AllowN(now, 1)
}

// Tokens returns the number of tokens available at now.
func (b *Bucket) Tokens(now time.Time) float64 {
	if b.limiter.Limit() == rate.Inf {
		return float64(b.cfg.Capacity)
	}
	return b.limiter.TokensAt(now)
}

// Config returns the bucket's configuration.
func (b *Bucket) Config() Config {
	return b.cfg
}
