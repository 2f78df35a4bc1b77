package backoff

import (
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/constants"
)

// Duration returns the delay before reconnect attempt n (1-based):
// base * 2^(n-1), capped at the max. Attempts below 1 get the base delay.
func Duration(attempt int) time.Duration {
	if attempt < 1 {
		return constants.BackoffBase
	}
	// 2^30 seconds is far beyond the cap
	if attempt > 30 {
		return constants.BackoffMax
	}

	d := constants.BackoffBase * time.Duration(1<<(attempt-1))
	if d > constants.BackoffMax {
		return constants.BackoffMax
	}
	return d
}
