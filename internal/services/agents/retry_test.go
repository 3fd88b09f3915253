package agents

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failureClass
	}{
		{"nil", nil, failTransient},
		{"plain network", errors.New("connection reset by peer"), failTransient},
		{"server error", errors.New("502 bad gateway"), failTransient},
		{"invalid key", errors.New("401 authentication_error: invalid x-api-key"), failAuth},
		{"gemini bad key", errors.New("API key not valid. Please pass a valid API key."), failAuth},
		{"permission", errors.New("PERMISSION_DENIED: caller does not have access"), failAuth},
		{"credit balance", errors.New("400 your credit balance is too low to access the API"), failQuota},
		{"billing", errors.New("please check your plan and billing details"), failQuota},
		{"throttle", errors.New("429 too many requests"), failRateLimited},
		{"resource exhausted", errors.New("RESOURCE_EXHAUSTED: per-minute quota reached"), failRateLimited},
		{"overloaded", errors.New("529 overloaded_error"), failRateLimited},
		// Overlapping markers: explicit billing text wins over the 429.
		{"daily quota with status", errors.New("429: exceeded your current quota, please check billing"), failQuota},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyProviderError(tc.err))
		})
	}
}

func TestServerRetryDelay(t *testing.T) {
	err := errors.New("Error 429, Message: quota exceeded. Please retry in 45.387061394s., Status: RESOURCE_EXHAUSTED")
	assert.InDelta(t, 45.387, serverRetryDelay(err).Seconds(), 0.001)

	err = errors.New(`rate limited, retryDelay: 30s`)
	assert.Equal(t, 30*time.Second, serverRetryDelay(err))

	assert.Equal(t, time.Duration(0), serverRetryDelay(errors.New("429 no hint here")))
	assert.Equal(t, time.Duration(0), serverRetryDelay(nil))
}

func TestBackoffGrowthAndCap(t *testing.T) {
	p := defaultRetryPolicy()

	assert.Equal(t, 45*time.Second, p.backoff(0, 0))
	assert.Equal(t, time.Duration(float64(45*time.Second)*1.5), p.backoff(1, 0))
	assert.Equal(t, 90*time.Second, p.backoff(2, 0), "capped at MaxBackoff")
	assert.Equal(t, 90*time.Second, p.backoff(10, 0))
}

func TestBackoffHonorsServerDelay(t *testing.T) {
	p := defaultRetryPolicy()

	// Server delay plus buffer replaces the initial backoff as the base.
	assert.Equal(t, 15*time.Second, p.backoff(0, 10*time.Second))
	assert.Equal(t, time.Duration(float64(15*time.Second)*1.5), p.backoff(1, 10*time.Second))

	// Still capped.
	assert.Equal(t, 90*time.Second, p.backoff(0, 2*time.Minute))
}
