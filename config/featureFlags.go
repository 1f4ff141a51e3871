package config

import (
	"os"
	"strings"
)

// StrictHistoryWrites makes per-field history appends fail the whole
// operation instead of being best-effort. Default off: losing an audit line
// is preferable to blocking an otherwise-successful state change.
//
// Set via env:
// - STRICT_HISTORY_WRITES=true
func StrictHistoryWrites() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_HISTORY_WRITES")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// MovementRedisLock enables the best-effort redis lock around the
// Replacement Chain in addition to the MySQL advisory lock.
//
// Set via env:
// - MOVEMENT_REDIS_LOCK=true
func MovementRedisLock() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("MOVEMENT_REDIS_LOCK")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
