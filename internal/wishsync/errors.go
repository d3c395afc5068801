package wishsync

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Reason tags the kind of failure a sync ended with.
type Reason string

const (
	ReasonNotFound         Reason = "not_found"
	ReasonCooldown         Reason = "cooldown"
	ReasonCannotRender     Reason = "cannot_render"
	ReasonCannotRead       Reason = "cannot_read"
	ReasonNoProducts       Reason = "no_products"
	ReasonRateLimited      Reason = "rate_limited"
	ReasonGenerationFailed Reason = "generation_failed"
)

var messages = map[Reason]string{
	ReasonNotFound:         "Connection not found",
	ReasonCannotRender:     "Cannot render page",
	ReasonCannotRead:       "Cannot read page",
	ReasonNoProducts:       "No products found, is the list private?",
	ReasonRateLimited:      "Generation temporarily disabled",
	ReasonGenerationFailed: "Generation failed",
}

// SyncError is an expected pipeline failure. Message is safe to show to users,
// Err carries the cause for the logs.
type SyncError struct {
	Reason     Reason
	Message    string
	NextSyncAt time.Time // Only set for cooldowns
	Err        error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Fail builds the SyncError for reason with its standard message.
func Fail(reason Reason, cause error) *SyncError {
	return &SyncError{
		Reason:  reason,
		Message: messages[reason],
		Err:     cause,
	}
}

// Cooldown builds the error returned when a sync is requested before next.
func Cooldown(now, next time.Time) *SyncError {
	mins := int(math.Ceil(next.Sub(now).Minutes()))
	if mins < 1 {
		mins = 1
	}
	unit := "minutes"
	if mins == 1 {
		unit = "minute"
	}

	return &SyncError{
		Reason:     ReasonCooldown,
		Message:    fmt.Sprintf("Next sync available in %d %s", mins, unit),
		NextSyncAt: next,
	}
}

// AsSyncError unwraps err into a SyncError if it is one.
func AsSyncError(err error) (*SyncError, bool) {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr, true
	}
	return nil, false
}
