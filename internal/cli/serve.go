package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jsonsqlite/jsonsqlite/internal/app"
	"github.com/jsonsqlite/jsonsqlite/internal/config"
	"github.com/jsonsqlite/jsonsqlite/internal/logging"
)

type serveFlags struct {
	configFile string
	dataDir    string
	addr       string
	storage    string
	logLevel   string
	logFormat  string
	logFile    string
}

// ExecuteServer runs the jsonsqlite-server command line.
func ExecuteServer(ctx context.Context) error {
	return NewServerCommand().ExecuteContext(ctx)
}

// NewServerCommand returns the jsonsqlite-server root command. Its
// configuration comes from an optional file, then JSONSQLITE_* variables,
// then flags.
func NewServerCommand() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "jsonsqlite-server",
		Short: "Serve the jsonsqlite export and import API over HTTP",
		Long: `jsonsqlite-server serves database export, import, validation and sync-date
operations over a JSON HTTP API, with progress streamed as server-sent events.

Examples:
  jsonsqlite-server --data-dir /var/lib/jsonsqlite
  jsonsqlite-server --addr :9090 --storage s3
  jsonsqlite-server --config /etc/jsonsqlite/config.yaml

Environment Variables:
  JSONSQLITE_DATA_DIR       Base directory for data files
  JSONSQLITE_HTTP_ADDR      HTTP listen address
  JSONSQLITE_STORAGE_TYPE   Storage type (local, s3)
  JSONSQLITE_LOG_LEVEL      Log level`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit: %s)", Version, Commit),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := serverConfig(f)
			if err != nil {
				return err
			}
			logger, closer, err := logging.New(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()
			return serve(cmd.Context(), cfg, logger, cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configFile, "config", "", "path to configuration file (YAML or JSON)")
	flags.StringVar(&f.dataDir, "data-dir", "", "base directory for all data files")
	flags.StringVar(&f.addr, "addr", "", "HTTP listen address")
	flags.StringVar(&f.storage, "storage", "", "document storage: local or s3")
	flags.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&f.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&f.logFile, "log-file", "", "also write logs to this file, rotated")
	return cmd
}

// serverConfig loads the configuration from file, environment and flags,
// in increasing priority.
func serverConfig(f serveFlags) (*config.Config, error) {
	var cfg *config.Config
	if f.configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(f.configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	for dst, v := range map[*string]string{
		&cfg.DataDir:      f.dataDir,
		&cfg.HTTP.Addr:    f.addr,
		&cfg.Storage.Type: f.storage,
		&cfg.Log.Level:    f.logLevel,
		&cfg.Log.Format:   f.logFormat,
		&cfg.Log.File:     f.logFile,
	} {
		if v != "" {
			*dst = v
		}
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, banner io.Writer) error {
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	printBanner(banner, cfg, a.Addr())
	return a.WaitForShutdown(ctx)
}

func printBanner(w io.Writer, cfg *config.Config, addr string) {
	fmt.Fprintln(w, "jsonsqlite server")
	fmt.Fprintf(w, "  Listen:    http://%s\n", addr)
	fmt.Fprintf(w, "  Databases: %s\n", cfg.Database.Dir)
	fmt.Fprintf(w, "  Storage:   %s", cfg.Storage.Type)
	if cfg.Storage.Type == "s3" {
		fmt.Fprintf(w, " (bucket %s)", cfg.Storage.S3.Bucket)
	} else {
		fmt.Fprintf(w, " (%s)", cfg.Storage.Path)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Export:    %s mode by default\n", cfg.Export.Mode)
}
