// Package main provides the CLI entrypoint for cellpace.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/cellpace/internal/calculator"
	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
	"github.com/verte-zerg/cellpace/internal/runner"
	"github.com/verte-zerg/cellpace/internal/stats"
	"github.com/verte-zerg/cellpace/internal/store"
	"github.com/verte-zerg/cellpace/internal/viewer"
)

var (
	configPath string
	dbPath     string
	logLevel   string

	runNoSave      bool
	runMetricsFile string
	runPlotHeight  int

	runsModel string
	runsSince string
	runsLast  int

	configPrint bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "cellpace",
		Short:             "Paced single-cell cardiac simulator",
		SilenceUsage:      true,
		SilenceErrors:     false,
		PersistentPreRunE: setupLogging,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "config file (.toml, .yaml or .yml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DefaultDBPath(), "run database")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newViewCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newModelsCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

func openStore() (*store.Store, error) {
	st, err := store.Open(dbPath, store.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	return st, nil
}

func closeStore(st *store.Store) {
	if cerr := st.Close(); cerr != nil {
		logErrf("failed to close db: %v\n", cerr)
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one paced simulation and print the report",
		Args:  cobra.NoArgs,
	}
	flags := addPipelineFlags(cmd)
	cmd.Flags().BoolVar(&runNoSave, "no-save", false, "do not store the run")
	cmd.Flags().StringVar(&runMetricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	cmd.Flags().IntVar(&runPlotHeight, "plot-height", 10, "plot height in rows")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return runRunCmd(cmd, flags)
	}
	return cmd
}

func runRunCmd(cmd *cobra.Command, flags *pipelineFlags) error {
	cfg, err := resolveConfig(cmd, flags)
	if err != nil {
		return err
	}
	return executeRun(cmd, cfg)
}

// executeRun runs cfg once, prints the report and stores the run.
func executeRun(cmd *cobra.Command, cfg config.Config) error {
	reg := prometheus.NewRegistry()
	r, err := runner.Build(cfg, runner.WithLogger(slog.Default()), runner.WithMetrics(runner.NewMetrics(reg)))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	run, runErr := r.Run(ctx)

	text, err := config.Encode(cfg)
	if err != nil {
		return err
	}
	if err := stats.RenderReport(cmd.OutOrStdout(), stats.NewReport(run, text), stats.RenderOptions{Height: runPlotHeight}); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if !runNoSave {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(st)
		if err := st.InsertRun(context.Background(), run, text); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		logErrf("Saved run %s\n", run.ID)
	}
	if runMetricsFile != "" {
		if err := prometheus.WriteToTextfile(runMetricsFile, reg); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	if !run.Valid() {
		return fmt.Errorf("run %s: %w", run.Status, runErr)
	}
	return nil
}

func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Run interactively and adjust pacing live",
		Args:  cobra.NoArgs,
	}
	flags := addPipelineFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return runViewCmd(cmd, flags)
	}
	return cmd
}

func runViewCmd(cmd *cobra.Command, flags *pipelineFlags) error {
	cfg, err := resolveConfig(cmd, flags)
	if err != nil {
		return err
	}
	r, err := runner.Build(cfg, runner.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	m := viewer.NewModel(runner.NewController(r), cfg, viewer.WithStore(st), viewer.WithLogger(slog.Default()))
	program := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run viewer: %w", err)
	}
	return nil
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage stored runs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored runs",
		Args:  cobra.NoArgs,
		RunE:  runRunsListCmd,
	}
	list.Flags().StringVar(&runsModel, "model", "", "model filter")
	list.Flags().StringVar(&runsSince, "since", "", "start date (YYYY-MM-DD)")
	list.Flags().IntVar(&runsLast, "last", 0, "limit to last N runs")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the report of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsShowCmd,
	}
	rerun := &cobra.Command{
		Use:   "rerun <id>",
		Short: "Run again with the configuration of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsRerunCmd,
	}
	rerun.Flags().BoolVar(&runNoSave, "no-save", false, "do not store the new run")
	rerun.Flags().IntVar(&runPlotHeight, "plot-height", 10, "plot height in rows")

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsRmCmd,
	}

	cmd.AddCommand(list, show, rerun, rm)
	return cmd
}

func runRunsListCmd(cmd *cobra.Command, _ []string) error {
	filter := model.RunFilter{Model: runsModel, Last: runsLast}
	if runsSince != "" {
		parsed, err := time.ParseInLocation("2006-01-02", runsSince, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		filter.Since = &parsed
	}
	if runsLast < 0 {
		return fmt.Errorf("--last must be >= 0")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	runs, err := st.ListRuns(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if err := stats.RenderRunList(cmd.OutOrStdout(), runs); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func runRunsShowCmd(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	report, err := stats.BuildReport(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	if err := stats.RenderReport(cmd.OutOrStdout(), report, stats.RenderOptions{}); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func runRunsRerunCmd(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	_, text, err := st.GetRun(cmd.Context(), args[0])
	closeStore(st)
	if err != nil {
		return err
	}
	cfg, err := config.Decode(text)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("stored configuration of run %s: %w", args[0], err)
	}
	return executeRun(cmd, cfg)
}

func runRunsRmCmd(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	if err := st.DeleteRun(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete run: %w", err)
	}
	logErrf("Deleted run %s\n", args[0])
	return nil
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List available cell models",
		Args:  cobra.NoArgs,
		RunE:  runModelsCmd,
	}
}

func runModelsCmd(cmd *cobra.Command, _ []string) error {
	for _, name := range calculator.Names() {
		spec, err := calculator.Lookup(name)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n\tvariables: %s\n", name, spec.Description, strings.Join(spec.Variables, ", ")); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
	}
	flags := addPipelineFlags(cmd)
	cmd.Flags().BoolVar(&configPrint, "print", false, "print the effective configuration instead of opening an editor")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if configPrint {
			return runConfigPrintCmd(cmd, flags)
		}
		return runConfigCmd(cmd)
	}
	return cmd
}

func runConfigPrintCmd(cmd *cobra.Command, flags *pipelineFlags) error {
	cfg, err := resolveConfig(cmd, flags)
	if err != nil {
		return err
	}
	text, err := config.Encode(cfg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprint(cmd.OutOrStdout(), text); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func runConfigCmd(_ *cobra.Command) error {
	path := configPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# cellpace configuration
# Uncomment a value to enable it. CLI flags override config values,
# config values override the model defaults.

# model = %q          # One of: %s
# timestep = 0.05     # Integration timestep (ms)
# duration = 0        # Simulated time (ms), 0 = S2 onset + %g
# s1Start = 10        # First S1 onset (ms)
# s1 = 500            # S1 pacing interval (ms)
# ns1 = 8             # Number of S1 stimuli
# s2 = 300            # S2 coupling interval (ms)
# stimdur = 1         # Pulse duration (ms)
# stimmag = 0.2       # Pulse magnitude

# [params]            # Model parameter overrides
# tau_close = 150

# [pointBuffer]
# bufferSize = 20     # Record every Nth step
# maxPoints = 10000   # Keep at most N points per series
# minMaxPoints = ["Jin", "Jout"]
# [pointBuffer.normalPoints]
# Vm = [-85.0, 15.0]

# [s1s2Points]
# enabled = true

# [apdPoints]
# threshhold = -70.0
# vNormalize = false
# variables = ["Vm"]
`,
		defaultModel,
		strings.Join(calculator.Names(), ", "),
		config.AutoTail,
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
