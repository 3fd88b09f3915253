// -----------------------------------------------------------------------
// Retry Backoff - Delay policy for failed queue items
// -----------------------------------------------------------------------

package queue

import (
	"math/rand"
	"time"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// blockedFloorMultiple raises the minimum delay for Blocked failures so a
// bot-walled host gets real breathing room before the next attempt.
const blockedFloorMultiple = 5

// backoffDelay computes the delay before the next attempt: exponential in
// the attempt count, capped at retryMax, then jittered uniformly over
// [0.5, 1.5) so retries spread out instead of thundering.
func backoffDelay(kind models.ErrorKind, attempts int, retryBase, retryMax time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := retryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= retryMax {
			break
		}
	}
	if delay > retryMax {
		delay = retryMax
	}

	if kind == models.ErrKindBlocked {
		if floor := time.Duration(blockedFloorMultiple) * retryBase; delay < floor {
			delay = floor
		}
	}

	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

// nextLocalMidnight returns the first midnight after now in loc. Budget and
// provider exhaustion park items here so they wake when the ledger resets.
func nextLocalMidnight(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}
