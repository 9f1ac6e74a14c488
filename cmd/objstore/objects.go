package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replit/object-storage-go/objectstorage"
)

func (a *app) newListCmd() *cobra.Command {
	var opts objectstorage.ListOptions
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List objects in the bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(c *objectstorage.Client) error {
				objects, err := c.List(cmd.Context(), &opts)
				if err != nil {
					return err
				}
				for _, o := range objects {
					fmt.Fprintln(a.out, o.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "only list names beginning with this prefix")
	cmd.Flags().StringVar(&opts.MatchGlob, "glob", "", "only list names matching this glob")
	cmd.Flags().StringVar(&opts.StartOffset, "start", "", "only list names at or after this one")
	cmd.Flags().StringVar(&opts.EndOffset, "end", "", "only list names before this one")
	cmd.Flags().IntVar(&opts.MaxResults, "max", 0, "maximum number of names to list (0 for no limit)")
	return cmd
}

func (a *app) newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat OBJECT",
		Short: "Write an object's contents to standard output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(c *objectstorage.Client) error {
				return c.DownloadToWriter(cmd.Context(), args[0], a.out)
			})
		},
	}
}

func (a *app) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get OBJECT FILE",
		Short: "Download an object to a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(c *objectstorage.Client) error {
				return c.DownloadToFilename(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func (a *app) newPutCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "put OBJECT [FILE]",
		Short: "Upload a local file, --text, or standard input to an object",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(c *objectstorage.Client) error {
				switch {
				case len(args) == 2:
					return c.UploadFromFilename(cmd.Context(), args[0], args[1])
				case cmd.Flags().Changed("text"):
					return c.UploadFromText(cmd.Context(), args[0], text)
				default:
					in := cmd.InOrStdin()
					if in == os.Stdin && stdinIsTerminal() {
						return fmt.Errorf("no input: give a FILE, --text, or pipe data to standard input")
					}
					return c.UploadFromReader(cmd.Context(), args[0], in)
				}
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "upload this text instead of a file")
	return cmd
}

func (a *app) newCopyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cp SOURCE DEST",
		Short: "Copy an object within the bucket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(c *objectstorage.Client) error {
				return c.Copy(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func (a *app) newRemoveCmd() *cobra.Command {
	var ignoreNotFound bool
	cmd := &cobra.Command{
		Use:   "rm OBJECT...",
		Short: "Delete objects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []objectstorage.DeleteOption
			if ignoreNotFound {
				opts = append(opts, objectstorage.IgnoreNotFound())
			}
			return a.withClient(cmd, func(c *objectstorage.Client) error {
				for _, name := range args {
					if err := c.Delete(cmd.Context(), name, opts...); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&ignoreNotFound, "ignore-not-found", false, "do not fail when an object does not exist")
	return cmd
}

func (a *app) newExistsCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "exists OBJECT",
		Short: "Report whether an object exists; exits 1 if it does not",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(c *objectstorage.Client) error {
				ok, err := c.Exists(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !quiet {
					fmt.Fprintln(a.out, ok)
				}
				if !ok {
					return &exitError{code: 1}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print nothing, only set the exit status")
	return cmd
}

func (a *app) newBucketCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bucket",
		Short: "Print the bucket in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(c *objectstorage.Client) error {
				id, err := c.BucketID(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, id)
				return nil
			})
		},
	}
}

// stdinIsTerminal reports whether standard input is an interactive terminal.
func stdinIsTerminal() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
