// Package staleness decides whether a cached value is still usable.
// Timestamps are milliseconds since the Unix epoch.
package staleness

import (
	"time"
)

const (
	// DefaultBalanceWindow is how long a fetched balance may be served from cache
	DefaultBalanceWindow = 5 * time.Minute

	// DefaultTickerWindow is how long market ticker data may be served from cache
	DefaultTickerWindow = 5 * time.Minute
)

// Policy is a stateless freshness predicate over a fixed window
type Policy struct {
	windowMs int64
}

// NewPolicy creates a policy; a non-positive window treats everything as stale
func NewPolicy(window time.Duration) Policy {
	return Policy{windowMs: window.Milliseconds()}
}

// BalancePolicy returns the default balance freshness policy
func BalancePolicy() Policy {
	return NewPolicy(DefaultBalanceWindow)
}

// TickerPolicy returns the default ticker freshness policy
func TickerPolicy() Policy {
	return NewPolicy(DefaultTickerWindow)
}

// IsFresh reports whether now - updated < window
func (p Policy) IsFresh(updated, now int64) bool {
	return now-updated < p.windowMs
}

// Cutoff returns the timestamp a record must be strictly newer than to be fresh at now
func (p Policy) Cutoff(now int64) int64 {
	return now - p.windowMs
}

// Window returns the configured window
func (p Policy) Window() time.Duration {
	return time.Duration(p.windowMs) * time.Millisecond
}

// Clock supplies the current time in milliseconds since the epoch
type Clock interface {
	NowMillis() int64
}

// ClockFunc adapts a function to Clock
type ClockFunc func() int64

// NowMillis implements Clock
func (f ClockFunc) NowMillis() int64 {
	return f()
}

// SystemClock reads the wall clock
type SystemClock struct{}

// NowMillis implements Clock
func (SystemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}
