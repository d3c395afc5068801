package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/sethvargo/go-envconfig"
	"go.temporal.io/sdk/client"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/jdholdren/wishsync/internal/cli"
	"github.com/jdholdren/wishsync/internal/logger"
	"github.com/jdholdren/wishsync/internal/render"
	"github.com/jdholdren/wishsync/internal/sqlite"
	"github.com/jdholdren/wishsync/internal/syncer"
	"github.com/jdholdren/wishsync/internal/wishsync"
	"github.com/jdholdren/wishsync/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)

	cmd := cli.NewRootCommand(open)
	err := cmd.ExecuteContext(ctx)
	cancel()
	if err == nil {
		return
	}

	// Failed syncs and previews were already reported by the command
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != cli.ExitFailure {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}

// Opens the database and builds the engine on first use, so commands that
// only read never need an api key.
func open(ctx context.Context, opts *cli.RootOptions) (*cli.App, error) {
	var cfg syncer.EngineConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %s", err)
	}

	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	slog.SetDefault(logger.New(os.Stderr, "text", level))

	dbx, err := sqlite.Open(opts.DB)
	if err != nil {
		return nil, err
	}
	repo := sqlite.New(dbx)

	var cleanups []func()
	engine := sync.OnceValues(func() (*syncer.Coordinator, error) {
		c, cleanup, err := syncer.Setup(ctx, repo, cfg)
		if err != nil {
			return nil, err
		}
		cleanups = append(cleanups, cleanup)
		return c, nil
	})

	app := &cli.App{
		Connections: repo,
		Syncer:      lazyEngine{engine},
		Generator:   lazyEngine{engine},
		Renderer:    render.New(render.Options{ExecPath: cfg.ChromePath}),
	}

	if opts.Temporal != "" {
		c, err := client.Dial(client.Options{HostPort: opts.Temporal})
		if err != nil {
			dbx.Close()
			return nil, fmt.Errorf("error dialing temporal: %s", err)
		}
		cleanups = append(cleanups, c.Close)
		app.Syncer = remoteSyncer{c}
	}

	app.Close = func() error {
		for _, cleanup := range cleanups {
			cleanup()
		}
		return dbx.Close()
	}

	return app, nil
}

type lazyEngine struct {
	get func() (*syncer.Coordinator, error)
}

func (l lazyEngine) Sync(ctx context.Context, connectionID string) (syncer.Result, error) {
	c, err := l.get()
	if err != nil {
		return syncer.Result{}, err
	}
	return c.Sync(ctx, connectionID)
}

func (l lazyEngine) Generate(ctx context.Context, pageURL string) (wishsync.Candidate, error) {
	c, err := l.get()
	if err != nil {
		return wishsync.Candidate{}, err
	}
	return c.Generate(ctx, pageURL)
}

// Runs syncs as workflows on the worker fleet.
type remoteSyncer struct {
	c client.Client
}

func (r remoteSyncer) Sync(ctx context.Context, connectionID string) (syncer.Result, error) {
	return worker.TriggerSyncWorkflow(ctx, r.c, connectionID)
}
