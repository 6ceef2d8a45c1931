package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/darshan-rambhia/goftp"
)

func newListCmd(opts *options) *cobra.Command {
	var readonly bool

	cmd := &cobra.Command{
		Use:     "ls [remote-path]",
		Aliases: []string{"list"},
		Short:   "List a remote directory",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) == 1 {
				path = args[0]
			}

			client, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			var entries []goftp.RemoteEntry
			if readonly {
				entries, err = client.ListFilesReadonly(cmd.Context(), path)
			} else {
				entries, err = client.ListFiles(cmd.Context(), path)
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range entries {
				kind := "-"
				if e.IsDir() {
					kind = "d"
				}
				modified := ""
				if !e.ModifiedAt.IsZero() {
					modified = e.ModifiedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", kind, e.Size, modified, e.Path)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&readonly, "readonly", false, "Restore the server working directory after listing")
	return cmd
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file (to stdout when no local path is given)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := ""
			if len(args) == 2 {
				local = args[1]
			}

			client, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			out, err := client.DownloadFile(cmd.Context(), args[0], local)
			if err != nil {
				return err
			}
			if local == "" {
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			}
			opts.logger.Info().Str("remote", args[0]).Str("local", out).Msg("downloaded")
			return nil
		},
	}
}

func newPutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-file|text|data-url> <remote-path>",
		Short: "Upload a local file, inline text or a base64 data URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.UploadFile(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			opts.logger.Info().Str("remote", args[1]).Msg("uploaded")
			return nil
		},
	}
}

func newMkdirCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <remote-path>",
		Short: "Create a remote directory and its parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			return client.CreateDirectory(cmd.Context(), args[0])
		},
	}
}

func newRmCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <remote-path>",
		Short: "Delete a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			return client.DeleteFile(cmd.Context(), args[0])
		},
	}
}

func newRmdirCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir <remote-path>",
		Short: "Delete a remote directory and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			return client.DeleteDirectory(cmd.Context(), args[0])
		},
	}
}

func newMvCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <from> <to>",
		Short: "Rename a remote file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			return client.Rename(cmd.Context(), args[0], args[1])
		},
	}
}

func newStatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <remote-path>",
		Short: "Show whether a remote path exists, its kind and size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !res.Exists {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: not found\n", args[0])
				return nil
			}
			if res.Kind == goftp.KindDirectory {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: directory\n", args[0])
				return nil
			}

			size, err := client.GetFileSize(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: file, %d bytes\n", args[0], size)
			return nil
		},
	}
}
