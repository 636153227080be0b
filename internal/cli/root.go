// Package cli implements the jsonsqlite command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jsonsqlite/jsonsqlite/internal/app"
	"github.com/jsonsqlite/jsonsqlite/internal/config"
	"github.com/jsonsqlite/jsonsqlite/internal/logging"
	"github.com/jsonsqlite/jsonsqlite/internal/progress"
	"github.com/jsonsqlite/jsonsqlite/internal/registry"
	"github.com/jsonsqlite/jsonsqlite/internal/storage"
)

// Set at build time with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "unknown"
)

// state is shared by all commands of one invocation.
type state struct {
	v          *viper.Viper
	cfgFile    string
	noProgress bool

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	registry  *registry.Registry
	service   *app.Service
	bar       *progress.Bar
}

// Execute runs the command line with os.Args.
func Execute(ctx context.Context) error {
	root, st := newRoot()
	defer st.close()
	return root.ExecuteContext(ctx)
}

func newRoot() (*cobra.Command, *state) {
	st := &state{v: viper.New()}

	root := &cobra.Command{
		Use:   "jsonsqlite",
		Short: "Export SQLite databases to JSON documents and import them back",
		Long: `jsonsqlite converts SQLite databases to self-describing JSON documents
(schema and data) and rebuilds databases from them.

Databases are named; database <name> lives in <data-dir>/databases/<name>SQLite.db.

Examples:
  jsonsqlite export app --mode full -o app.json
  jsonsqlite import app.json
  jsonsqlite sync create app
  jsonsqlite export app --mode partial --save
  jsonsqlite watch ./inbox`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: st.setup,
	}

	defaults := config.DefaultConfig()
	flags := root.PersistentFlags()
	flags.StringVar(&st.cfgFile, "config", "", "config file (default is ./jsonsqlite.yaml)")
	flags.String("data-dir", defaults.DataDir, "base directory for databases and saved documents")
	flags.String("db-dir", "", "directory holding database files (default <data-dir>/databases)")
	flags.String("storage", defaults.Storage.Type, "document storage: local or s3")
	flags.String("log-level", defaults.Log.Level, "log level: debug, info, warn, error")
	flags.String("log-format", defaults.Log.Format, "log format: text or json")
	flags.String("log-file", "", "also write logs to this file, rotated")
	flags.BoolVar(&st.noProgress, "no-progress", false, "do not draw a progress bar")

	bind := map[string]string{
		"data_dir":     "data-dir",
		"database.dir": "db-dir",
		"storage.type": "storage",
		"log.level":    "log-level",
		"log.format":   "log-format",
		"log.file":     "log-file",
	}
	for key, flag := range bind {
		_ = st.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newExportCommand(st),
		newImportCommand(st),
		newValidateCommand(st),
		newSyncCommand(st),
		newWatchCommand(st),
		newConfigCommand(st),
		newVersionCommand(),
	)
	return root, st
}

// setup loads configuration and builds the service before any command runs.
func (st *state) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	cfg, err := loadConfig(st.v, st.cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	st.cfg = cfg

	st.logger, st.logCloser, err = logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	store, err := storage.New(cmd.Context(), cfg.StorageConfig())
	if err != nil {
		return err
	}

	var sink progress.Sink
	if !st.noProgress && isTerminal(cmd.ErrOrStderr()) {
		st.bar = progress.NewBar(cmd.ErrOrStderr())
		sink = st.bar
	}

	st.registry = registry.New(cfg.RegistryConfig())
	st.service = app.NewService(app.ServiceOptions{
		Registry:             st.registry,
		Storage:              store,
		Sink:                 sink,
		Logger:               st.logger,
		DefaultMode:          cfg.Export.Mode,
		LastModifiedTriggers: cfg.Import.LastModifiedTriggers,
	})
	return nil
}

func (st *state) close() {
	if st.bar != nil {
		st.bar.Stop()
	}
	if st.service != nil {
		if err := st.service.Close(context.Background()); err != nil {
			st.logger.Warn("failed to close databases", "error", err)
		}
	}
	if st.logCloser != nil {
		st.logCloser.Close()
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jsonsqlite version %s (commit: %s)\n", Version, Commit)
		},
	}
}
