package poller

import "time"

// Upstream rate limit parameters: the user_timeline endpoint allows
// limitCount requests per limitWindow, and each tracked account costs one
// request per run.
const (
	limitWindow = 15 * time.Minute
	limitCount  = 300
	minInterval = 60 * time.Second
)

// pollInterval returns how long to wait before the next run, spreading one
// fetch per account across the rate window. Below the limit the interval
// shrinks with the account count but never drops below minInterval; at or above the
// limit every account is fetched exactly once per window.
func pollInterval(accountCount int) time.Duration {
	if accountCount >= limitCount {
		return limitWindow
	}
	iv := time.Duration(accountCount) * limitWindow / limitCount
	// round up to a whole second
	if r := iv % time.Second; r != 0 {
		iv += time.Second - r
	}
	if iv < minInterval {
		return minInterval
	}
	return iv
}
