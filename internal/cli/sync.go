package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <connection-id>",
		Short: "Sync a connection now",
		Long: `Renders the connection's page, extracts its products and reconciles them
with the connection's items. The cooldown applies as it does for users.

With --temporal the sync runs on the worker fleet instead of in this process.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(app *App, out *OutputFormatter) error {
				id := args[0]
				out.VerboseLog("syncing connection %s", id)

				res, err := app.Syncer.Sync(cmd.Context(), id)
				if err != nil {
					return out.Failure(err)
				}

				return out.Success(res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Synced %s: %d items (%d added, %d removed)\n", id, res.Items, res.Added, res.Removed)
					return err
				})
			})
		},
	}
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "generate <url>",
		Short:         "Preview the item a product page would become",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(app *App, out *OutputFormatter) error {
				c, err := app.Generator.Generate(cmd.Context(), args[0])
				if err != nil {
					return out.Failure(err)
				}

				return out.Success(c, func(w io.Writer) error {
					return writeCandidate(w, c)
				})
			})
		},
	}
}

func writeCandidate(w io.Writer, c wishsync.Candidate) error {
	price := "-"
	if c.Price != nil {
		price = fmt.Sprintf("%.2f %s", *c.Price, c.Currency)
	}
	_, err := fmt.Fprintf(w, "Name:  %s\nPrice: %s\nImage: %s\nURL:   %s\n", c.Name, price, orDash(c.ImageURL), orDash(c.URL))
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
