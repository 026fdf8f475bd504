package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: 0.001, BackoffMultiplier: 2, MaxDelay: 1, Jitter: false}
}

func overloaded() error {
	return streamEventError("echo", "overloaded_error", "Overloaded")
}

func TestRetryRecoversFromOverloadedRouter(t *testing.T) {
	policy := fastPolicy(3)
	var attempts []int
	var delays []time.Duration
	policy.OnRetry = func(_ error, attempt int, delay time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
	}

	calls := 0
	resp, err := Retry(context.Background(), policy, func(context.Context) (*Response, error) {
		calls++
		if calls < 3 {
			return nil, overloaded()
		}
		return &Response{ID: "msg_ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_ok", resp.ID)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestRetryHonorsWrappedRetryAfter(t *testing.T) {
	policy := fastPolicy(1)
	var got time.Duration
	policy.OnRetry = func(_ error, _ int, delay time.Duration) { got = delay }

	retryAfter := 0.02
	calls := 0
	_, err := Retry(context.Background(), policy, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("stream: %w", ErrorFromStatusCode(429, "slow down", "echo", "rate_limit_error", &retryAfter))
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, got)
}

func TestRetryAfterBeyondMaxDelaySurfacesImmediately(t *testing.T) {
	retryAfter := 120.0
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		return "", ErrorFromStatusCode(429, "slow down", "echo", "", &retryAfter)
	})
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 1, calls)
}

func TestRetrySkipsBillingAndAuthFailures(t *testing.T) {
	for _, status := range []int{401, 402} {
		calls := 0
		_, err := Retry(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
			calls++
			return "", ErrorFromStatusCode(status, "no", "echo", "", nil)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls, "status %d must not be retried", status)
	}
}

func TestRetryExhaustedReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(2), func(context.Context) (string, error) {
		calls++
		return "", &NetworkError{SDKError: SDKError{Message: fmt.Sprintf("attempt %d", calls)}}
	})
	assert.Equal(t, 3, calls, "initial call plus two retries")
	assert.EqualError(t, err, "attempt 3")
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: 30, BackoffMultiplier: 1, MaxDelay: 30}
	policy.OnRetry = func(error, int, time.Duration) { cancel() }

	calls := 0
	_, err := Retry(ctx, policy, func(context.Context) (string, error) {
		calls++
		return "", overloaded()
	})
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 1, BackoffMultiplier: 2, MaxDelay: 5}
	assert.Equal(t, time.Second, policy.Delay(0))
	assert.Equal(t, 4*time.Second, policy.Delay(2))
	assert.Equal(t, 5*time.Second, policy.Delay(10), "capped at MaxDelay")

	policy.Jitter = true
	for i := 0; i < 50; i++ {
		d := policy.Delay(0)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, 1.0, p.BaseDelay)
	assert.Equal(t, 60.0, p.MaxDelay)
	assert.Equal(t, 2.0, p.BackoffMultiplier)
	assert.True(t, p.Jitter)
}
