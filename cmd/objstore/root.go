package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/replit/object-storage-go/internal/config"
	"github.com/replit/object-storage-go/internal/logging"
	"github.com/replit/object-storage-go/objectstorage"
)

// app carries state shared by all subcommands.
type app struct {
	out    io.Writer
	cfg    *config.Config
	logger *slog.Logger

	configPath string
	bucket     string
	backend    string
	logLevel   string
	logFormat  string
}

// newRootCmd builds the command tree. Output from subcommands goes to out.
func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:           "objstore",
		Short:         "Command-line client for Replit Object Storage",
		Long:          `objstore reads and writes objects in a Replit Object Storage bucket. Without --bucket it uses the Repl's default bucket, looked up from the sidecar.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "objstore.yaml", "path to configuration file")
	flags.StringVar(&a.bucket, "bucket", "", "bucket to use (default: from config or the sidecar's default bucket)")
	flags.StringVar(&a.backend, "backend", "", "storage backend: gcs, s3, azure, memory, local, sqlite (default: from config or gcs)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text, json (default: from config or text)")

	root.AddCommand(
		a.newListCmd(),
		a.newCatCmd(),
		a.newGetCmd(),
		a.newPutCmd(),
		a.newCopyCmd(),
		a.newRemoveCmd(),
		a.newExistsCmd(),
		a.newBucketCmd(),
		a.newSidecarCmd(),
	)
	return root
}

// load reads configuration and applies flag overrides.
func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	// Command-line flags override config file values.
	if a.bucket != "" {
		cfg.Bucket = a.bucket
	}
	if a.backend != "" {
		cfg.Backend.Type = a.backend
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if cfg.Metrics.Enabled {
		objectstorage.RegisterMetrics()
	}
	return nil
}

// withClient opens a client for the duration of fn.
func (a *app) withClient(cmd *cobra.Command, fn func(c *objectstorage.Client) error) error {
	client, cleanup, err := openClient(cmd.Context(), a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(client)
}
