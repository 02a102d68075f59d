package service

import "time"

// IsOnlineAt reports whether a record last refreshed at lastActive is still
// fresh at now. A zero lastActive is never online and the boundary
// now-lastActive == threshold already counts as offline.
func IsOnlineAt(now, lastActive time.Time, threshold time.Duration) bool {
	if lastActive.IsZero() {
		return false
	}
	return now.Sub(lastActive) < threshold
}
