package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/jdholdren/wishsync/internal/logger"
	"github.com/jdholdren/wishsync/internal/sqlite"
	"github.com/jdholdren/wishsync/internal/syncer"
	"github.com/jdholdren/wishsync/internal/worker"
)

type config struct {
	Database          string        `env:"DATABASE, required"`
	TemporalHostPort  string        `env:"TEMPORAL_HOST_PORT, required"`
	TemporalNamespace string        `env:"TEMPORAL_NAMESPACE, default=default"`
	TemporalRetention time.Duration `env:"TEMPORAL_RETENTION, default=72h"`

	ResyncInterval    time.Duration `env:"RESYNC_INTERVAL, default=1h"`
	ResyncStaleAfter  time.Duration `env:"RESYNC_STALE_AFTER"`
	ResyncConcurrency int           `env:"RESYNC_CONCURRENCY, default=2"`

	LogFormat string `env:"LOG_FORMAT, default=text"`
	LogLevel  string `env:"LOG_LEVEL, default=info"`

	Engine syncer.EngineConfig
}

func main() {
	ctx := context.Background()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stdout, cfg.LogFormat, cfg.LogLevel))

	// Connect to the sqlite db, running all migrations
	dbx, err := sqlite.Open(cfg.Database)
	if err != nil {
		log.Fatalf("error opening database: %s", err)
	}
	defer dbx.Close()

	repo := sqlite.New(dbx)

	coordinator, cleanup, err := syncer.Setup(ctx, repo, cfg.Engine)
	if err != nil {
		log.Fatalf("error setting up syncer: %s", err)
	}
	defer cleanup()

	// Retry until temporal is ready
	var c client.Client
	if err := retry.Fibonacci(ctx, 1*time.Second, func(ctx context.Context) error {
		cli, err := client.Dial(client.Options{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			Logger:    tlog.NewStructuredLogger(slog.Default()),
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		c = cli

		return nil
	}); err != nil {
		log.Fatalln("Unable to create Temporal client:", err)
	}
	defer c.Close()

	if err := worker.EnsureNamespace(ctx, c.WorkflowService(), cfg.TemporalNamespace, cfg.TemporalRetention); err != nil {
		log.Fatalf("error ensuring namespace: %s", err)
	}

	w, err := worker.NewWorker(ctx, c, repo, coordinator, worker.Options{
		Interval:    cfg.ResyncInterval,
		StaleAfter:  cfg.ResyncStaleAfter,
		Concurrency: cfg.ResyncConcurrency,
	})
	if err != nil {
		log.Fatalf("error creating worker: %s", err)
	}

	var g run.Group
	{
		stop := make(chan any)
		g.Add(func() error {
			return w.Run(stop)
		}, func(error) {
			close(stop)
		})
	}
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sigErr run.SignalError
	if err != nil && !errors.As(err, &sigErr) {
		log.Fatalf("worker stopped: %s", err)
	}
	slog.Info("worker stopped", "reason", err)
}
