// -----------------------------------------------------------------------
// Provider Retry - Rate-limit backoff and failure classification
// -----------------------------------------------------------------------

package agents

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// retryPolicy defines in-provider retry behavior for rate-limited calls.
// Sized for the ~60 second quota windows both providers use.
type retryPolicy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

const (
	defaultMaxRetries        = 5
	defaultInitialBackoff    = 45 * time.Second
	defaultMaxBackoff        = 90 * time.Second
	defaultBackoffMultiplier = 1.5
)

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		MaxRetries:        defaultMaxRetries,
		InitialBackoff:    defaultInitialBackoff,
		MaxBackoff:        defaultMaxBackoff,
		BackoffMultiplier: defaultBackoffMultiplier,
	}
}

// backoff computes the wait before retry number attempt (0-based). A
// server-provided delay overrides the initial backoff as the base; the
// result is capped at MaxBackoff.
func (p retryPolicy) backoff(attempt int, serverDelay time.Duration) time.Duration {
	base := p.InitialBackoff
	if serverDelay > 0 {
		// Honor the API's suggestion plus a small buffer.
		base = serverDelay + 5*time.Second
	}

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= p.BackoffMultiplier
	}

	backoff := time.Duration(float64(base) * multiplier)
	if backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}
	return backoff
}

// failureClass buckets a provider error for chain policy: auth and quota
// failures disable the provider for the scope, rate limits retry in
// provider, everything else falls through the chain.
type failureClass int

const (
	failTransient failureClass = iota
	failAuth
	failQuota
	failRateLimited
)

var authMarkers = []string{
	"401",
	"invalid x-api-key",
	"api key not valid",
	"unauthenticated",
	"permission_denied",
	"permission denied",
	"authentication_error",
	"403",
}

var quotaMarkers = []string{
	"insufficient_quota",
	"credit balance",
	"billing",
	"exceeded your current quota",
	"plan and billing",
}

var rateMarkers = []string{
	"429",
	"rate limit",
	"rate_limit",
	"resource_exhausted",
	"quota",
	"overloaded",
	"529",
}

// classifyProviderError inspects the error text. Order matters: explicit
// auth and billing markers win over the generic rate-limit markers they
// can overlap with.
func classifyProviderError(err error) failureClass {
	if err == nil {
		return failTransient
	}
	text := strings.ToLower(err.Error())
	for _, m := range authMarkers {
		if strings.Contains(text, m) {
			return failAuth
		}
	}
	for _, m := range quotaMarkers {
		if strings.Contains(text, m) {
			return failQuota
		}
	}
	for _, m := range rateMarkers {
		if strings.Contains(text, m) {
			return failRateLimited
		}
	}
	return failTransient
}

// serverRetryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs"
// patterns in provider error text.
var serverRetryDelayRegex = regexp.MustCompile(`(?i)(?:please retry in |retryDelay[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// serverRetryDelay parses the API-suggested retry delay from a rate-limit
// error. Returns 0 when no delay is present.
//
// Example: "Error 429 ... Please retry in 45.387061394s. Status: RESOURCE_EXHAUSTED"
func serverRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	matches := serverRetryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}
	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
