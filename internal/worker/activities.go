package worker

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/jdholdren/wishsync/internal/syncer"
	"github.com/jdholdren/wishsync/internal/wishsync"
)

// Syncer runs one connection sync. Implemented by [syncer.Coordinator].
type Syncer interface {
	Sync(ctx context.Context, connectionID string) (syncer.Result, error)
}

type activities struct {
	repo       wishsync.Repository
	syncer     Syncer
	staleAfter time.Duration
	now        func() time.Time
}

// Instance to make the workflow a bit more readable
var acts = activities{}

// Lists the connections due for a resync: never synced, or last synced
// longer than staleAfter ago.
func (a activities) StaleConnections(ctx context.Context) ([]string, error) {
	conns, err := a.repo.StaleConnections(ctx, a.now().Add(-a.staleAfter))
	if err != nil {
		return nil, fmt.Errorf("error listing stale connections: %w", err)
	}

	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ID)
	}

	activity.GetLogger(ctx).Info("found stale connections", "count", len(ids))

	return ids, nil
}

// Syncs a single connection. Expected sync failures are final; retrying them
// would only run into the cooldown.
func (a activities) SyncConnection(ctx context.Context, connectionID string) (syncer.Result, error) {
	res, err := a.syncer.Sync(ctx, connectionID)
	if syncErr, ok := wishsync.AsSyncError(err); ok {
		return syncer.Result{}, temporal.NewNonRetryableApplicationError(
			syncErr.Message,
			errTypeSync,
			err,
			syncFailure{Reason: syncErr.Reason, Message: syncErr.Message},
		)
	}
	if err != nil {
		return syncer.Result{}, fmt.Errorf("error syncing connection: %w", err)
	}

	return res, nil
}
