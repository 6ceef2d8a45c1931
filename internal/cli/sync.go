package cli

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/darshan-rambhia/goftp"
)

func newSyncCmd(opts *options) *cobra.Command {
	var (
		ignore     []string
		noProgress bool
	)

	cmd := &cobra.Command{
		Use:   "sync <remote-dir> <local-dir>",
		Short: "Mirror a remote tree into a new timestamped local directory",
		Long: `Mirror a remote tree into <local-dir>/<YYYY-MM-DD_HH-MM>.

Ignore patterns containing a slash exclude that remote path and
everything below it. Other patterns exclude entries whose name starts or
ends with the pattern. Patterns from the site profile are added to --ignore.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			patterns := append([]string{}, ignore...)
			if opts.profile != nil {
				patterns = append(patterns, opts.profile.Ignore...)
			}
			rules := goftp.ParseIgnoreRules(patterns)

			var bar *progressbar.ProgressBar
			onProgress := func(int) {}
			if !noProgress {
				bar = newSyncBar(cmd.ErrOrStderr())
				onProgress = func(n int) {
					_ = bar.Set(n)
				}
			}

			result, err := client.SyncToLocal(cmd.Context(), args[0], args[1], rules, onProgress)
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "synced %d files into %s", result.FilesSynced, result.Root)
			if result.FilesFailed > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (%d failed)", result.FilesFailed)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&ignore, "ignore", "i", nil, "Ignore pattern (repeatable)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress spinner")
	return cmd
}

func newSyncBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("syncing"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}
