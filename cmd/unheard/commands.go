package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/unheard/unheard/internal/config"
	"github.com/unheard/unheard/internal/contextfile"
	"github.com/unheard/unheard/internal/ingest"
	"github.com/unheard/unheard/internal/project"
	"github.com/unheard/unheard/internal/storage/git"
)

// app is the state shared by subcommands once flags and config are loaded.
type app struct {
	configPath string
	logLevel   string
	backend    string

	cfg  *config.Config
	repo *git.Manager
}

func (a *app) ingester() *ingest.Ingester {
	return ingest.New(a.repo, contextfile.NewRegistry(a.cfg.Upload.LargeFileThreshold))
}

func newRootCmd(ll *slog.LevelVar) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "unheard",
		Short: "Version controlled project workspace",
		Long: `unheard bootstraps project directories and records every imported
artifact as a commit in the project's history.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.LogLevel = a.logLevel
			}
			if a.backend != "" {
				cfg.Backend = a.backend
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := setLevel(ll, cfg.LogLevel); err != nil {
				return err
			}
			if a.repo, err = cfg.Manager(); err != nil {
				return err
			}
			a.cfg = cfg
			slog.DebugContext(cmd.Context(), "config loaded", "backend", a.repo.Backend().String())
			return nil
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "config file (default is $UNHEARD_CONFIG or ~/.config/unheard/config.yaml)")
	f.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&a.backend, "backend", "", "Repository backend (gogit, exec)")

	root.AddCommand(
		a.initCmd(),
		a.commitCmd(),
		a.attioCmd(),
		a.decisionCmd(),
		a.experimentCmd(),
		a.uploadCmd(),
		a.filesCmd(),
		a.logCmd(),
		a.watchCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version and exit",
			Args:  cobra.NoArgs,
			// Skip config loading.
			PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
			Run:               func(*cobra.Command, []string) { printVersion() },
		},
	)
	return root
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <dir>",
		Short: "Create a project skeleton in an empty directory and commit it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := project.Bootstrap(cmd.Context(), a.repo, args[0])
			if err != nil {
				return err
			}
			if !res.LargeFileSupport {
				slog.WarnContext(cmd.Context(), "git-lfs not found; large files will be stored as regular objects")
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (a *app) commitCmd() *cobra.Command {
	var msg string
	cmd := &cobra.Command{
		Use:   "commit <dir> <path>...",
		Short: "Commit files already present in the project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := git.CommitIn(cmd.Context(), a.repo, args[0], args[1:], msg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().StringVarP(&msg, "message", "m", "", "Commit message")
	return cmd
}

func (a *app) attioCmd() *cobra.Command {
	attio := &cobra.Command{
		Use:   "attio",
		Short: "Import Attio CRM records",
	}

	var rec ingest.AttioRecord
	imp := &cobra.Command{
		Use:   "import <dir> <json-file>",
		Short: "Import one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			rec.JSON = string(b)
			rel, err := a.ingester().SaveAttioRecord(cmd.Context(), args[0], rec)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rel)
			return err
		},
	}
	imp.Flags().StringVar(&rec.ObjectType, "type", "", "Object type (company, person, list_entry)")
	imp.Flags().StringVar(&rec.RecordID, "id", "", "Attio record ID")
	imp.Flags().StringVar(&rec.Filename, "name", "", "File name without extension")

	batch := &cobra.Command{
		Use:   "batch <dir> <json-file>",
		Short: "Import a JSON array of records in a single commit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			var recs []ingest.AttioRecord
			if err := json.Unmarshal(b, &recs); err != nil {
				return fmt.Errorf("failed to decode %s: %w", args[1], err)
			}
			paths, err := a.ingester().SaveAttioBatch(cmd.Context(), args[0], recs)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), paths)
		},
	}
	attio.AddCommand(imp, batch)
	return attio
}

func (a *app) decisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decision <dir> <name.md> <content-file>",
		Short: "Write and commit a decision log",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readInput(cmd, args[2])
			if err != nil {
				return err
			}
			rel, err := a.ingester().CreateDecision(cmd.Context(), args[0], args[1], string(b))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rel)
			return err
		},
	}
}

func (a *app) experimentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "experiment <dir> <name.yaml> <yaml-file>",
		Short: "Write and commit an experiment config",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readInput(cmd, args[2])
			if err != nil {
				return err
			}
			rel, err := a.ingester().WriteExperiment(cmd.Context(), args[0], args[1], string(b))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rel)
			return err
		},
	}
}

func (a *app) uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <dir> <file>",
		Short: "Copy a context file into the project and commit it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			obs := &ingest.CLIObserver{Out: cmd.ErrOrStderr(), Err: cmd.ErrOrStderr()}
			rec, err := a.ingester().Upload(cmd.Context(), args[0], args[1], obs)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func (a *app) filesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files <dir>",
		Short: "List project files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := project.ListProjectFiles(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), files)
		},
	}
}

func (a *app) logCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "log <dir>",
		Short: "Show project history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repo.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			history, err := repo.Log(cmd.Context(), n)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), history)
		},
	}
	cmd.Flags().IntVarP(&n, "max-count", "n", 20, "Number of commits to show")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>",
		Short: "Commit files written into the project by other programs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ingester().Watch(cmd.Context(), args[0], a.cfg.Watch.Debounce)
		},
	}
}

// readInput reads name, or stdin when name is "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	b, err := os.ReadFile(name) //nolint:gosec // G304: user supplied path
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s does not exist", name)
	}
	return b, err
}

func printJSON(w io.Writer, v any) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
