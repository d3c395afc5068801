package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jdholdren/wishsync/internal/distill"
)

type distillOptions struct {
	scroll       bool
	keepRelative bool
}

type distillOutput struct {
	URL      string `json:"url"`
	Markdown string `json:"markdown"`
}

// NewDistillCommand creates the distill command.
func NewDistillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &distillOptions{}

	cmd := &cobra.Command{
		Use:   "distill <url>",
		Short: "Print the markdown the extractor would see for a page",
		Long: `Renders the page in headless Chrome and prints its distilled markdown.
Useful when a connection fails with no products and you want to see why.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(app *App, out *OutputFormatter) error {
				pageURL := args[0]

				html, err := app.Renderer.Render(cmd.Context(), pageURL, opts.scroll)
				if err != nil {
					return out.Failure(err)
				}
				out.VerboseLog("rendered %d bytes of html", len(html))

				doc, err := distill.Distill(html, pageURL, distill.Options{KeepRelativeLinks: opts.keepRelative})
				if err != nil {
					return out.Failure(err)
				}

				return out.Success(distillOutput{URL: pageURL, Markdown: doc}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, doc)
					return err
				})
			})
		},
	}

	cmd.Flags().BoolVar(&opts.scroll, "scroll", false, "scroll the page to load lazy content, as list syncs do")
	cmd.Flags().BoolVar(&opts.keepRelative, "keep-relative", false, "resolve relative links instead of dropping them")

	return cmd
}
