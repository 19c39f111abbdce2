package cache

import (
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// writeRetryOptions returns retry options for database writes.
// Uses backoff (100ms, 200ms, 300ms) suitable for transient lock errors.
func writeRetryOptions() []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(300 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsDatabaseLocked),
		retry.LastErrorOnly(true),
	}
}

// IsDatabaseLocked returns true if the error indicates a database lock.
func IsDatabaseLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
