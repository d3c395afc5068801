package worker

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

// Error types
//
// These are error types in the temporal sense, not the general "go" error types sense.
// They are used since between activities error types are marshaled and type information is lost.
const (
	errTypeSync = "syncFailure"
)

// Details attached to a failed sync so callers on the other side of temporal
// can rebuild the [wishsync.SyncError].
type syncFailure struct {
	Reason  wishsync.Reason `json:"reason"`
	Message string          `json:"message"`
}

// Unwraps the application error from temporal into a sync error if possible.
//
// Returns false if err isn't a sync failure.
func asSyncErr(err error) (*wishsync.SyncError, bool) {
	if err == nil {
		return nil, false
	}

	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || appErr.Type() != errTypeSync {
		return nil, false
	}
	var f syncFailure
	if err := appErr.Details(&f); err != nil {
		return nil, false
	}

	return &wishsync.SyncError{Reason: f.Reason, Message: f.Message, Err: appErr}, true
}
