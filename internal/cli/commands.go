package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jsonsqlite/jsonsqlite/internal/docio"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/internal/watch"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// withDatabase opens the existing database name for the duration of fn.
func (st *state) withDatabase(ctx context.Context, name string, fn func() error) error {
	path := st.registry.Path(name)
	if _, err := os.Stat(path); err != nil {
		return errors.NewStateError(errors.CodeDatabaseNotOpen,
			fmt.Sprintf("database %q does not exist (%s)", name, path))
	}
	if err := st.service.OpenDatabase(ctx, name); err != nil {
		return err
	}
	defer st.service.CloseDatabase(context.Background(), name)
	return fn()
}

// readDocument reads a document from path, or from stdin when path is "-".
// Files ending in .json.sz are snappy-compressed.
func readDocument(path string, stdin io.Reader) (*types.Document, error) {
	raw, err := readRaw(path, stdin)
	if err != nil {
		return nil, err
	}
	return docio.Decode(raw)
}

func readRaw(path string, stdin io.Reader) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryValidation, errors.CodeInvalidDocument,
			fmt.Sprintf("failed to read %s", path), err)
	}
	if strings.HasSuffix(path, docio.Extension) {
		return docio.Decompress(raw)
	}
	return raw, nil
}

func newExportCommand(st *state) *cobra.Command {
	var (
		mode     string
		out      string
		compress bool
		save     bool
		pretty   bool
	)
	cmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Export a database to a JSON document",
		Long: `Export a database to a JSON document.

In full mode every table is exported with its schema and rows. In partial
mode only rows changed since the sync date are exported; run "sync create"
first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			m := types.Mode(strings.ToLower(mode))
			if m != "" && !m.Valid() {
				return errors.NewValidationError(errors.CodeInvalidMode,
					fmt.Sprintf("invalid mode %q (must be full or partial)", mode))
			}
			ctx := cmd.Context()

			var doc *types.Document
			err := st.withDatabase(ctx, name, func() error {
				var err error
				doc, err = st.service.ExportToJSON(ctx, name, m)
				return err
			})
			if err != nil {
				return err
			}

			if save {
				stored, err := st.service.SaveDocument(ctx, doc)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "saved %s (%d bytes, fingerprint %s)\n", stored.Key, stored.Bytes, stored.Fingerprint)
			}

			raw, err := encodeDocument(doc, pretty)
			if err != nil {
				return err
			}
			if compress || strings.HasSuffix(out, docio.Extension) {
				raw = docio.Compress(raw)
			}
			if out == "-" {
				_, err = cmd.OutOrStdout().Write(raw)
				return err
			}
			if err := os.WriteFile(out, raw, 0o644); err != nil {
				return errors.Wrap(errors.ErrCategoryInternal, errors.CodeUnexpected, "failed to write "+out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %s: %d tables, %d views to %s\n", name, len(doc.Tables), len(doc.Views), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "export mode: full or partial (default from config)")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().BoolVar(&compress, "compress", false, "snappy-compress the output (implied by a .json.sz output file)")
	cmd.Flags().BoolVar(&save, "save", false, "also save the document to document storage")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON output")
	return cmd
}

func encodeDocument(doc *types.Document, pretty bool) ([]byte, error) {
	raw, err := docio.Encode(doc)
	if err != nil || !pretty {
		return raw, err
	}
	return docio.Indent(raw)
}

func newImportCommand(st *state) *cobra.Command {
	var saved string
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a JSON document into the database it names",
		Long: `Import a JSON document into the database it names, creating the database
when it does not exist. Use - to read the document from stdin, or --saved to
import the document last saved for a database.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				doc *types.Document
				err error
			)
			switch {
			case saved != "" && len(args) > 0:
				return errors.NewValidationError(errors.CodeInvalidDocument, "give either a file or --saved, not both")
			case saved != "":
				doc, err = st.service.LoadDocument(ctx, saved)
			case len(args) == 1:
				doc, err = readDocument(args[0], cmd.InOrStdin())
			default:
				return errors.NewValidationError(errors.CodeInvalidDocument, "a document file or --saved is required")
			}
			if err != nil {
				return err
			}

			res, err := st.service.ImportFromJSON(ctx, doc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s: %d changes\n", doc.Database, res.Changes)
			return nil
		},
	}
	cmd.Flags().StringVar(&saved, "saved", "", "import the document saved for this database")
	return cmd
}

func newValidateCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check that a file holds a valid JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readRaw(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			if valid, reason := st.service.IsJSONValid(raw); !valid {
				return reason
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", args[0])
			return nil
		},
	}
}

func newSyncCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Manage the sync date used by partial exports",
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create the sync table, seeded with the current time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withDatabase(cmd.Context(), args[0], func() error {
				changes, err := st.service.CreateSyncTable(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "changes: %d\n", changes)
				return nil
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Print the sync date as epoch seconds, or -1 when unset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withDatabase(cmd.Context(), args[0], func() error {
				epoch, err := st.service.GetSyncDate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), epoch)
				return nil
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <name> <epoch|RFC3339|now>",
		Short: "Set the sync date",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			epoch, err := parseSyncDate(args[1], time.Now)
			if err != nil {
				return err
			}
			return st.withDatabase(cmd.Context(), args[0], func() error {
				if err := st.service.SetSyncDate(cmd.Context(), args[0], epoch); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sync date: %d\n", epoch)
				return nil
			})
		},
	}

	cmd.AddCommand(create, get, set)
	return cmd
}

func parseSyncDate(s string, now func() time.Time) (int64, error) {
	if s == "now" {
		return now().Unix(), nil
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return epoch, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, errors.NewValidationError(errors.CodeInvalidDocument,
			fmt.Sprintf("invalid sync date %q (want epoch seconds, RFC3339 or now)", s))
	}
	return t.Unix(), nil
}

func newWatchCommand(st *state) *cobra.Command {
	var (
		existing bool
		settle   time.Duration
		move     bool
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Import every document written into a directory",
		Long: `Watch a directory and import every *.json or *.json.sz document written
into it. With --move, imported files are moved to <dir>/imported and
failed ones to <dir>/failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			handler := func(ctx context.Context, path string) error {
				err := importFile(ctx, st, path)
				if move {
					sub := "imported"
					if err != nil {
						sub = "failed"
					}
					if mvErr := moveInto(path, filepath.Join(dir, sub)); mvErr != nil {
						st.logger.Warn("failed to move document", "file", path, "error", mvErr)
					}
				}
				return err
			}
			w, err := watch.New(watch.Config{
				Dir:      dir,
				Settle:   settle,
				Existing: existing,
				Logger:   st.logger,
			}, handler)
			if err != nil {
				return err
			}
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&existing, "existing", false, "also import documents already in the directory")
	cmd.Flags().DurationVar(&settle, "settle", 500*time.Millisecond, "how long a file must be unchanged before import")
	cmd.Flags().BoolVar(&move, "move", false, "move handled files to imported/ or failed/")
	return cmd
}

func importFile(ctx context.Context, st *state, path string) error {
	doc, err := readDocument(path, nil)
	if err != nil {
		return err
	}
	res, err := st.service.ImportFromJSON(ctx, doc)
	if err != nil {
		return err
	}
	st.logger.Info("document imported", "file", filepath.Base(path), "database", doc.Database, "changes", res.Changes)
	return nil
}

func moveInto(path, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(dir, filepath.Base(path)))
}

func newConfigCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(st.cfg)
		},
	}
}
