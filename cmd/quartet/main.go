// Command quartet turns a code-change request into a verified run of
// the planner, builder, verifier, and reviewer roles, with every state
// transition persisted so interrupted runs can be resumed.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/quartet-sh/quartet/engine"
	"github.com/quartet-sh/quartet/id"
	"github.com/quartet-sh/quartet/internal/agent"
	"github.com/quartet-sh/quartet/internal/config"
	"github.com/quartet-sh/quartet/middleware"
	storefs "github.com/quartet-sh/quartet/store/fs"
	storesqlite "github.com/quartet-sh/quartet/store/sqlite"
	"github.com/quartet-sh/quartet/workflow"
)

var (
	configPath string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quartet",
		Short: "AI-assisted code change orchestrator",
		Long: "Quartet runs a code-change request through planner, builder,\n" +
			"verifier, and reviewer agents, persisting every step so that\n" +
			"interrupted or failed runs can be resumed or retried.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newRetryCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newListCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if path := os.Getenv("QUARTET_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "quartet.yaml"
	}
	return filepath.Join(home, ".quartet", "quartet.yaml")
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// store bundles the run store with its event log reader.
type store interface {
	workflow.Store
	workflow.Sink
	Events(ctx context.Context, runID id.RunID) ([]workflow.Event, error)
}

// openStore builds the configured backend. The returned closer is a
// no-op for the fs store.
func openStore(cfg *config.Config) (store, func() error, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := storesqlite.New(cfg.DBPath())
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := storefs.New(cfg.RunsDir())
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	}
}

// setup loads the config and wires the store, agents, and engine.
func setup() (*config.Config, store, *engine.Engine, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, nil, nil, nil, err
	}

	s, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}

	logger := newLogger()
	table, err := agent.NewTable(cfg.Agents, logger)
	if err != nil {
		closeStore()
		return nil, nil, nil, nil, err
	}

	eng := engine.New(s, table,
		engine.WithConfig(cfg.Engine()),
		engine.WithSink(s),
		engine.WithLogger(logger),
		engine.WithMiddleware(
			middleware.Recover(logger),
			middleware.Logging(logger),
			middleware.Tracing(),
		),
	)
	return cfg, s, eng, closeStore, nil
}

func parseRunID(arg string) (id.RunID, error) {
	runID, err := id.ParseRunID(arg)
	if err != nil {
		return id.Nil, fmt.Errorf("invalid run id %q: %w", arg, err)
	}
	return runID, nil
}

func newRunCommand() *cobra.Command {
	var (
		workflowName string
		repo         string
	)

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Start a new run for a change request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, eng, closeStore, err := setup()
			if err != nil {
				return err
			}
			defer closeStore()

			def, err := cfg.Definition(workflowName)
			if err != nil {
				return err
			}
			projectRoot, err := filepath.Abs(repo)
			if err != nil {
				return fmt.Errorf("resolve repo path: %w", err)
			}

			req := workflow.Request{
				Prompt:        args[0],
				ProjectRoot:   projectRoot,
				ArtifactsRoot: filepath.Join(cfg.DataDir, "artifacts"),
			}

			run, err := eng.Start(cmd.Context(), def, req)
			if run != nil {
				printRun(cmd.OutOrStdout(), run)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&workflowName, "workflow", "w", config.DefaultWorkflow, "workflow to run")
	cmd.Flags().StringVarP(&repo, "repo", "r", ".", "project repository")
	return cmd
}

func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Continue an interrupted or failed run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			_, _, eng, closeStore, err := setup()
			if err != nil {
				return err
			}
			defer closeStore()

			run, err := eng.Resume(cmd.Context(), runID)
			if run != nil {
				printRun(cmd.OutOrStdout(), run)
			}
			return err
		},
	}
}

func newRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <run-id> <step-index>",
		Short: "Re-execute a run from the given step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			stepIndex, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid step index %q: %w", args[1], err)
			}

			_, _, eng, closeStore, err := setup()
			if err != nil {
				return err
			}
			defer closeStore()

			run, err := eng.RetryFromStep(cmd.Context(), runID, stepIndex)
			if run != nil {
				printRun(cmd.OutOrStdout(), run)
			}
			return err
		},
	}
}

func newStatusCommand() *cobra.Command {
	var showEvents bool

	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run's persisted state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			_, s, eng, closeStore, err := setup()
			if err != nil {
				return err
			}
			defer closeStore()

			run, err := eng.Inspect(cmd.Context(), runID)
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), run)

			if showEvents {
				events, err := s.Events(cmd.Context(), runID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "\nEvents:")
				for _, ev := range events {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s [%s] %s\n",
						ev.Time.Local().Format(time.RFC3339), ev.Level, ev.Message)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showEvents, "events", false, "include the run's event log")
	return cmd
}

func newListCommand() *cobra.Command {
	var (
		state string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, eng, closeStore, err := setup()
			if err != nil {
				return err
			}
			defer closeStore()

			runs, err := eng.List(cmd.Context(), workflow.ListOpts{
				State: workflow.RunState(state),
				Limit: limit,
			})
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
				return nil
			}

			for _, run := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s %-12s %s\n",
					run.ID, run.State, run.Workflow, truncate(run.Request.Prompt, 50))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "filter by run state")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	return cmd
}

func printRun(w io.Writer, run *workflow.Run) {
	fmt.Fprintf(w, "Run %s (%s)\n", run.ID, run.Workflow)
	fmt.Fprintf(w, "State: %s\n", run.State)
	if run.Request.Prompt != "" {
		fmt.Fprintf(w, "Prompt: %s\n", truncate(run.Request.Prompt, 100))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}

	fmt.Fprintln(w, "Steps:")
	for i, step := range run.Steps {
		line := fmt.Sprintf("  %d. %-10s %-10s [%s]", i, step.Spec.Name, step.Spec.Role, step.State)
		if step.DurationMS > 0 {
			line += fmt.Sprintf(" %dms", step.DurationMS)
		}
		if step.Error != "" {
			line += " " + truncate(step.Error, 60)
		}
		fmt.Fprintln(w, line)
		for _, artifact := range step.Artifacts {
			fmt.Fprintf(w, "       - %s\n", artifact)
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
