package domain_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/domain"
)

func TestRetryInfo(t *testing.T) {
	ri := domain.NewRetryInfo(now)
	require.True(t, ri.IsDue(now))
	require.Equal(t, domain.MinBackoff, ri.Duration())

	ri = ri.Increment(now)
	require.Equal(t, 1, ri.RetryCounter)
	require.Equal(t, 300*time.Millisecond, ri.Duration())
	require.Equal(t, now.Add(300*time.Millisecond), ri.NextRetry)
	require.False(t, ri.IsDue(now))
	require.True(t, ri.IsDue(now.Add(time.Second)))

	ri = ri.Increment(now)
	require.Equal(t, 450*time.Millisecond, ri.Duration())
}

func TestRetryInfoIsPure(t *testing.T) {
	ri := domain.NewRetryInfo(now)
	next := ri.Increment(now)

	require.Equal(t, 0, ri.RetryCounter)
	require.Equal(t, 1, next.RetryCounter)
}

func TestRetryInfoBounds(t *testing.T) {
	ri := domain.NewRetryInfo(now)
	for i := 0; i < 200; i++ {
		ri = ri.Increment(now)
	}
	require.Equal(t, domain.MaxBackoff, ri.Duration())
	require.Equal(t, domain.MaxRequestTimeout, ri.RequestTimeout())

	require.Equal(t, domain.MinRequestTimeout, domain.NewRetryInfo(now).RequestTimeout())

	// 200ms * 1.5^9 is within the request timeout bounds.
	ri = domain.RetryInfo{RetryCounter: 9}
	require.Equal(t, ri.Duration(), ri.RequestTimeout())
}

func TestRetryInfoSchedule(t *testing.T) {
	tests := []struct {
		counter int
		delay   time.Duration
		timeout time.Duration
	}{
		{0, 200 * time.Millisecond, 5 * time.Second},
		{1, 300 * time.Millisecond, 5 * time.Second},
		{2, 450 * time.Millisecond, 5 * time.Second},
		{10, 11533007812 * time.Nanosecond, 11533007812 * time.Nanosecond},
		{15, 87578778076 * time.Nanosecond, time.Minute},
		{30, time.Hour, time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(strconv.Itoa(tt.counter), func(t *testing.T) {
			ri := domain.RetryInfo{RetryCounter: tt.counter}
			require.InDelta(t, float64(tt.delay), float64(ri.Duration()), float64(time.Millisecond))
			require.InDelta(t, float64(tt.timeout), float64(ri.RequestTimeout()), float64(time.Millisecond))
		})
	}
}
