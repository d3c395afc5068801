package worker

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

const (
	TaskQueue = "wishsync"

	syncScheduleID = "sync_connections"
)

type Options struct {
	Interval    time.Duration // How often the resync runs
	StaleAfter  time.Duration // Age after which a connection is resynced
	Concurrency int           // Syncs running at once in a resync
}

// NewWorker sets up the worker with registration of workflows, activities, and schedules.
func NewWorker(ctx context.Context, cli client.Client, repo wishsync.Repository, s Syncer, opts Options) (worker.Worker, error) {
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = opts.Interval
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 2
	}

	a := activities{
		repo:       repo,
		syncer:     s,
		staleAfter: opts.StaleAfter,
		now:        time.Now,
	}

	w := worker.New(cli, TaskQueue, worker.Options{
		// One headless browser per running sync
		MaxConcurrentActivityExecutionSize: opts.Concurrency,
	})

	if err := registerEverything(ctx, w, a, cli, opts); err != nil {
		return nil, fmt.Errorf("error registering workflows and activities: %T, %v", err, err)
	}

	return w, nil
}

func registerEverything(ctx context.Context, w worker.Worker, a activities, cli client.Client, opts Options) error {
	// Workflows
	wfs := workflows{}
	w.RegisterWorkflow(wfs.SyncStaleConnections)
	w.RegisterWorkflow(wfs.SyncConnection)

	// Activities
	w.RegisterActivity(&a)

	// Schedules:
	// Resync stale connections
	handle := cli.ScheduleClient().GetHandle(ctx, syncScheduleID)
	if _, err := handle.Describe(ctx); err != nil {
		_, err = cli.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID:   syncScheduleID,
			Spec: scheduleSpec(opts.Interval),
			Action: &client.ScheduleWorkflowAction{
				ID:        syncScheduleID,
				Workflow:  wfs.SyncStaleConnections,
				Args:      []any{opts.Concurrency},
				TaskQueue: TaskQueue,
			},
		})
		return err
	}

	// Existing schedule: bring its interval and arguments in line with the config
	return handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			sched := input.Description.Schedule
			spec := scheduleSpec(opts.Interval)
			sched.Spec = &spec
			if action, ok := sched.Action.(*client.ScheduleWorkflowAction); ok {
				action.Args = []any{opts.Concurrency}
			}

			return &client.ScheduleUpdate{
				Schedule: &sched,
			}, nil
		},
	})
}

func scheduleSpec(every time.Duration) client.ScheduleSpec {
	return client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{{Every: every}},
	}
}
