package worker

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/jdholdren/wishsync/internal/syncer"
)

type workflows struct{}

// Must outlast the coordinator's own deadline.
const syncTimeout = 4 * time.Minute

// SyncSummary counts how a batch resync went.
type SyncSummary struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

func syncActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: syncTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
}

// SyncStaleConnections resyncs every stale connection, at most concurrency at a time.
// A failed connection doesn't fail the run.
func (workflows) SyncStaleConnections(ctx workflow.Context, concurrency int) (SyncSummary, error) {
	logger := workflow.GetLogger(ctx)

	listCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})
	var ids []string
	if err := workflow.ExecuteActivity(listCtx, acts.StaleConnections).Get(ctx, &ids); err != nil {
		logger.Error("failed to list stale connections", "error", err)
		return SyncSummary{}, err
	}

	if concurrency < 1 {
		concurrency = 1
	}
	var (
		syncCtx = workflow.WithActivityOptions(ctx, syncActivityOptions())
		slots   = workflow.NewBufferedChannel(ctx, concurrency)
		wg      = workflow.NewWaitGroup(ctx)
		summary SyncSummary
	)
	for _, id := range ids {
		slots.Send(ctx, struct{}{})
		wg.Add(1)
		workflow.Go(ctx, func(ctx workflow.Context) {
			defer wg.Done()
			defer slots.Receive(ctx, nil)

			if err := workflow.ExecuteActivity(syncCtx, acts.SyncConnection, id).Get(ctx, nil); err != nil {
				logger.Warn("failed to sync connection", "connection_id", id, "error", err)
				summary.Failed++
				return
			}
			summary.Synced++
		})
	}

	wg.Wait(ctx)

	logger.Info("resynced stale connections", "synced", summary.Synced, "failed", summary.Failed)

	return summary, nil
}

// SyncConnection syncs one connection on the worker.
func (workflows) SyncConnection(ctx workflow.Context, connectionID string) (syncer.Result, error) {
	ctx = workflow.WithActivityOptions(ctx, syncActivityOptions())

	var res syncer.Result
	err := workflow.ExecuteActivity(ctx, acts.SyncConnection, connectionID).Get(ctx, &res)
	return res, err
}

// TriggerSyncWorkflow runs a sync on the worker fleet and waits for it.
//
// Expected failures come back as *wishsync.SyncError.
func TriggerSyncWorkflow(ctx context.Context, c client.Client, connectionID string) (syncer.Result, error) {
	options := client.StartWorkflowOptions{
		ID:        "sync_" + connectionID,
		TaskQueue: TaskQueue,
	}
	we, err := c.ExecuteWorkflow(ctx, options, workflows{}.SyncConnection, connectionID)
	if err != nil {
		return syncer.Result{}, fmt.Errorf("unable to execute workflow: %s", err)
	}

	var res syncer.Result
	err = we.Get(ctx, &res)
	if syncErr, ok := asSyncErr(err); ok {
		return syncer.Result{}, syncErr
	}
	if err != nil {
		return syncer.Result{}, fmt.Errorf("error executing workflow: %s", err)
	}

	return res, nil
}
