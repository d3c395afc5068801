// Package cli implements syncctl, the operator's tool for running and
// inspecting connection syncs by hand.
package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdholdren/wishsync/internal/syncer"
	"github.com/jdholdren/wishsync/internal/wishsync"
)

type (
	Syncer interface {
		Sync(ctx context.Context, connectionID string) (syncer.Result, error)
	}

	Generator interface {
		Generate(ctx context.Context, pageURL string) (wishsync.Candidate, error)
	}

	Renderer interface {
		Render(ctx context.Context, pageURL string, scroll bool) (string, error)
	}

	ConnectionLister interface {
		ErroredConnections(ctx context.Context) ([]wishsync.Connection, error)
		StaleConnections(ctx context.Context, before time.Time) ([]wishsync.Connection, error)
	}

	// App is what the commands run against. Close releases whatever Open acquired.
	App struct {
		Connections ConnectionLister
		Syncer      Syncer
		Generator   Generator
		Renderer    Renderer
		Close       func() error
	}

	// Opener builds the App for a command invocation.
	Opener func(ctx context.Context, opts *RootOptions) (*App, error)
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	DB       string
	Temporal string // Run syncs on the worker fleet at this host:port instead of locally

	open Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for syncctl.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "syncctl - run and inspect wishlist connection syncs",
		Long:  "Operator tool for the connection sync engine: trigger syncs, preview distilled pages and list connections needing attention.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "wishsync.db", "path to the sqlite database")
	cmd.PersistentFlags().StringVar(&opts.Temporal, "temporal", "", "temporal host:port; syncs run on the worker when set")

	// Add subcommands
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewGenerateCommand(opts))
	cmd.AddCommand(NewDistillCommand(opts))
	cmd.AddCommand(NewErroredCommand(opts))
	cmd.AddCommand(NewStaleCommand(opts))

	return cmd
}

// Opens the app, runs fn and closes the app again.
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(app *App, out *OutputFormatter) error) error {
	app, err := o.open(cmd.Context(), o)
	if err != nil {
		return WrapExitError(ExitCommandError, "error opening app", err)
	}
	defer func() {
		if app.Close != nil {
			app.Close()
		}
	}()

	return fn(app, &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	})
}
