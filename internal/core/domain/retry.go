package domain

import (
	"math"
	"time"
)

const (
	// MinBackoff is the delay before the first retry.
	MinBackoff = 200 * time.Millisecond
	// MaxBackoff caps the exponential growth of the retry delay.
	MaxBackoff = time.Hour
	// BackoffBase is the growth factor of the retry delay.
	BackoffBase = 1.5

	// MinRequestTimeout and MaxRequestTimeout bound the timeout of the HTTP
	// requests made on behalf of an entity.
	MinRequestTimeout = 5 * time.Second
	MaxRequestTimeout = 60 * time.Second
)

// RetryInfo is the retry bookkeeping embedded in every long-lived record.
// All the methods are pure: they return a new value instead of mutating the
// receiver.
type RetryInfo struct {
	RetryCounter int
	FirstTry     time.Time
	NextRetry    time.Time
	Active       bool
}

// NewRetryInfo returns the retry info of an entity that can be processed
// right away.
func NewRetryInfo(now time.Time) RetryInfo {
	return RetryInfo{
		RetryCounter: 0,
		FirstTry:     now,
		NextRetry:    now,
		Active:       true,
	}
}

// Increment returns the retry info after a failed attempt.
func (r RetryInfo) Increment(now time.Time) RetryInfo {
	if r.FirstTry.IsZero() {
		r.FirstTry = now
	}
	r.Active = true
	r.RetryCounter++
	r.NextRetry = now.Add(r.Duration())
	return r
}

// Duration returns the delay to wait before the next attempt.
func (r RetryInfo) Duration() time.Duration {
	delay := float64(MinBackoff) * math.Pow(BackoffBase, float64(r.RetryCounter))
	if math.IsInf(delay, 0) || delay > float64(MaxBackoff) {
		return MaxBackoff
	}
	if delay < float64(MinBackoff) {
		return MinBackoff
	}
	return time.Duration(delay)
}

// IsDue returns whether the entity can be processed at the given time.
func (r RetryInfo) IsDue(now time.Time) bool {
	return !now.Before(r.NextRetry)
}

// RequestTimeout returns the timeout for HTTP requests made on behalf of an
// entity, which grows with the backoff.
func (r RetryInfo) RequestTimeout() time.Duration {
	timeout := r.Duration()
	if timeout < MinRequestTimeout {
		return MinRequestTimeout
	}
	if timeout > MaxRequestTimeout {
		return MaxRequestTimeout
	}
	return timeout
}
