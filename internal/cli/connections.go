package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

type connectionOutput struct {
	ID           string     `json:"id"`
	WishlistID   string     `json:"wishlist_id"`
	URL          string     `json:"url"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	SyncError    bool       `json:"sync_error"`
}

// NewErroredCommand creates the errored command.
func NewErroredCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "errored",
		Short:         "List connections whose last sync failed",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(app *App, out *OutputFormatter) error {
				conns, err := app.Connections.ErroredConnections(cmd.Context())
				if err != nil {
					return WrapExitError(ExitCommandError, "error listing connections", err)
				}

				return writeConnections(out, conns)
			})
		},
	}
}

// NewStaleCommand creates the stale command.
func NewStaleCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:           "stale",
		Short:         "List connections the next resync would pick up",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(app *App, out *OutputFormatter) error {
				cutoff := time.Now().Add(-olderThan)
				out.VerboseLog("listing connections last synced before %s", cutoff.Format(time.RFC3339))

				conns, err := app.Connections.StaleConnections(cmd.Context(), cutoff)
				if err != nil {
					return WrapExitError(ExitCommandError, "error listing connections", err)
				}

				return writeConnections(out, conns)
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "how long ago a connection must have synced to be stale")

	return cmd
}

func writeConnections(out *OutputFormatter, conns []wishsync.Connection) error {
	data := make([]connectionOutput, 0, len(conns))
	for _, c := range conns {
		data = append(data, connectionOutput{
			ID:           c.ID,
			WishlistID:   c.WishlistID,
			URL:          c.URL,
			LastSyncedAt: c.LastSyncedAt,
			SyncError:    c.SyncError,
		})
	}

	return out.Success(data, func(w io.Writer) error {
		if len(data) == 0 {
			_, err := fmt.Fprintln(w, "No connections.")
			return err
		}

		tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tWISHLIST\tLAST SYNCED\tURL")
		for _, c := range data {
			synced := "never"
			if c.LastSyncedAt != nil {
				synced = c.LastSyncedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.WishlistID, synced, c.URL)
		}
		return tw.Flush()
	})
}
