package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	wserrs "github.com/jdholdren/wishsync/internal/errors"
	"github.com/jdholdren/wishsync/internal/wishsync"
)

var reasonStatus = map[wishsync.Reason]int{
	wishsync.ReasonNotFound:         http.StatusNotFound,
	wishsync.ReasonCooldown:         http.StatusTooManyRequests,
	wishsync.ReasonRateLimited:      http.StatusTooManyRequests,
	wishsync.ReasonCannotRender:     http.StatusUnprocessableEntity,
	wishsync.ReasonCannotRead:       http.StatusUnprocessableEntity,
	wishsync.ReasonNoProducts:       http.StatusUnprocessableEntity,
	wishsync.ReasonGenerationFailed: http.StatusBadGateway,
}

// Turns a sync failure into the error the client sees. Only the user facing
// message leaves the server; anything that isn't a sync failure is returned
// untouched and ends up as a 500.
func syncFailure(w http.ResponseWriter, err error) error {
	syncErr, ok := wishsync.AsSyncError(err)
	if !ok {
		return err
	}

	status, ok := reasonStatus[syncErr.Reason]
	if !ok {
		status = http.StatusInternalServerError
	}
	if syncErr.Reason == wishsync.ReasonCooldown {
		secs := int(math.Ceil(time.Until(syncErr.NextSyncAt).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}

	return wserrs.E(syncErr.Message, status, wserrs.Reason(syncErr.Reason))
}
