// -----------------------------------------------------------------------
// Host Rate Limiter - Per-host token buckets for polite fetching
// -----------------------------------------------------------------------

package scraper

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiters hands out one token bucket per host. Sources can override
// the default requests-per-minute; the override sticks to the host so all
// fetch paths share the same budget.
type hostLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	fallback int // requests per minute when the source sets none
}

func newHostLimiters(requestsPerMinute int) *hostLimiters {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 10
	}
	return &hostLimiters{
		limiters: make(map[string]*rate.Limiter),
		fallback: requestsPerMinute,
	}
}

// wait blocks until the host's bucket allows one request. perMinute > 0
// overrides the host's rate from source config.
func (h *hostLimiters) wait(ctx context.Context, rawURL string, perMinute int) error {
	host := hostOf(rawURL)
	if host == "" {
		return nil
	}

	h.mu.Lock()
	limiter, ok := h.limiters[host]
	if !ok {
		rpm := perMinute
		if rpm <= 0 {
			rpm = h.fallback
		}
		limiter = rate.NewLimiter(perMinuteLimit(rpm), 1)
		h.limiters[host] = limiter
	} else if perMinute > 0 {
		if want := perMinuteLimit(perMinute); limiter.Limit() != want {
			limiter.SetLimit(want)
		}
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}

func perMinuteLimit(rpm int) rate.Limit {
	return rate.Limit(float64(rpm) / 60.0)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
