package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilnproject/kiln/internal/engine"
	"github.com/kilnproject/kiln/pkg/events"
	"github.com/kilnproject/kiln/pkg/fetch"
	"github.com/kilnproject/kiln/pkg/graph"
	"github.com/kilnproject/kiln/pkg/logger"
	"github.com/kilnproject/kiln/pkg/notifier"
	"github.com/kilnproject/kiln/pkg/process"
	"github.com/kilnproject/kiln/pkg/recipe"
	"github.com/kilnproject/kiln/pkg/runner"
	"github.com/kilnproject/kiln/pkg/state"
	"github.com/kilnproject/kiln/pkg/types"
)

// buildFlags are the per-invocation overrides layered over the config file
type buildFlags struct {
	jobs     int
	clobber  bool
	cleanup  string
	noNotify bool
}

func newBuildCmd() *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "build [package...]",
		Short: "Build packages and everything they depend on",
		Long: `Build the named packages, or every recipe in the recipe directory
when no names are given. Dependencies build first; independent packages
build in parallel up to the concurrency limit.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(args, flags)
		},
	}

	cmd.Flags().IntVarP(&flags.jobs, "jobs", "j", 0, "maximum packages processed at once (default: config or CPU count)")
	cmd.Flags().BoolVar(&flags.clobber, "clobber", false, "discard previously fetched sources instead of resuming")
	cmd.Flags().StringVar(&flags.cleanup, "cleanup", "", "workdir cleanup policy: keep-on-failure, always-keep, always-remove")
	cmd.Flags().BoolVar(&flags.noNotify, "no-notify", false, "disable desktop notifications")

	return cmd
}

func newFetchCmd() *cobra.Command {
	var clobber bool

	cmd := &cobra.Command{
		Use:          "fetch [package...]",
		Short:        "Fetch and unpack package sources without building",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(args, clobber)
		},
	}

	cmd.Flags().BoolVar(&clobber, "clobber", false, "discard previously fetched sources instead of resuming")

	return cmd
}

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "describe <package>...",
		Short:        "Show a recipe's metadata, sources and build steps",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(args)
		},
	}
}

func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "graph [package...]",
		Short:        "Print the dependency graph in build order",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(args)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "status",
		Short:        "Show the outcome of the most recent build session",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kiln v%s\n", version)
		},
	}
}

func runBuild(names []string, flags buildFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyBuildFlags(cfg, flags)

	log := logger.CreateLogger(filepath.Join(cfg.LogDir, "kiln.log"), verbosity)

	recipes, err := loadRecipes(cfg.RecipeDir, names)
	if err != nil {
		return err
	}
	if len(recipes) == 0 {
		printWarning("no recipes found in " + cfg.RecipeDir)
		return nil
	}

	g, err := graph.Build(recipes)
	if err != nil {
		return err
	}

	renderer := NewConsoleRenderer(os.Stdout)
	sink := events.NewBufferedSink(renderer, 0)
	defer sink.Close()

	logSink, err := events.NewFileLogSink(cfg.LogDir)
	if err != nil {
		return err
	}
	defer logSink.Close()

	acquirer := fetch.New(log, sink, fetch.Options{Clobber: cfg.Clobber || flags.clobber})
	stepRunner := runner.New(log, logSink, sink)

	sched := engine.New(g, recipes, acquirer, stepRunner, sink, log, engine.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		BuildDir:       cfg.BuildDir,
		Cleanup:        cfg.Cleanup,
		PhaseTimeout:   cfg.PhaseTimeoutDuration(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := process.NewManager(log)
	mgr.RegisterShutdownHandler(cancel)
	mgr.Start(ctx)
	defer mgr.Stop()

	notify := notifier.New(notifierConfig(cfg, flags.noNotify), log)
	notify.NotifySessionStart(len(recipes))

	started := time.Now()
	summary, runErr := sched.Run(ctx)
	notify.NotifySessionDone(summary, time.Since(started))

	store := state.NewStore(cfg.LogDir, log)
	if path, err := store.WriteSummary(summary); err != nil {
		log.Warn("could not persist session summary", logger.WithField("error", err))
	} else {
		log.Debug("session summary written", logger.WithField("path", path))
	}

	printSummary(summary)
	if dropped := sink.Dropped(); dropped > 0 {
		log.Debug("progress events dropped", logger.WithField("count", dropped))
	}

	if runErr != nil {
		return fmt.Errorf("build aborted: %w", runErr)
	}
	if _, failed, skipped := summary.Counts(); failed > 0 {
		return fmt.Errorf("%d packages failed, %d skipped", failed, skipped)
	}
	return nil
}

func runFetch(names []string, clobber bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.CreateLogger(filepath.Join(cfg.LogDir, "kiln.log"), verbosity)

	recipes, err := loadRecipes(cfg.RecipeDir, names)
	if err != nil {
		return err
	}

	renderer := NewConsoleRenderer(os.Stdout)
	sink := events.NewBufferedSink(renderer, 0)
	defer sink.Close()

	acquirer := fetch.New(log, sink, fetch.Options{Clobber: cfg.Clobber || clobber})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := process.NewManager(log)
	mgr.RegisterShutdownHandler(cancel)
	mgr.Start(ctx)
	defer mgr.Stop()

	for _, rec := range recipes {
		workdir := filepath.Join(cfg.BuildDir, rec.Name+"-"+rec.Version)
		for i, src := range rec.Sources {
			if err := acquirer.Acquire(ctx, rec.Name, src, workdir); err != nil {
				return fmt.Errorf("%s source %d (%s): %w", rec.Name, i, src, err)
			}
		}
		printSuccess(fmt.Sprintf("%s sources ready in %s", rec.Name, workdir))
	}
	return nil
}

func runDescribe(names []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	recipes, err := recipe.LoadAll(cfg.RecipeDir, names)
	if err != nil {
		return err
	}

	for i, rec := range recipes {
		if i > 0 {
			fmt.Println()
		}
		describeRecipe(rec)
	}
	return nil
}

func describeRecipe(rec *types.Recipe) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", rec.Name)
	fmt.Fprintf(w, "Version:\t%s\n", rec.Version)
	if rec.Description != "" {
		fmt.Fprintf(w, "Description:\t%s\n", rec.Description)
	}
	if len(rec.License) > 0 {
		fmt.Fprintf(w, "License:\t%s\n", strings.Join(rec.License, ", "))
	}
	if len(rec.Dependencies) > 0 {
		fmt.Fprintf(w, "Depends:\t%s\n", strings.Join(rec.Dependencies, ", "))
	}
	for i, src := range rec.Sources {
		fmt.Fprintf(w, "Source %d:\t%s\n", i, src)
	}
	w.Flush()

	if len(rec.Steps) > 0 {
		fmt.Println("Steps:")
		for i, step := range rec.Steps {
			fmt.Printf("  %2d. %s\n", i+1, step)
		}
	}
}

func runGraph(names []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	recipes, err := loadRecipes(cfg.RecipeDir, names)
	if err != nil {
		return err
	}
	g, err := graph.Build(recipes)
	if err != nil {
		return err
	}

	for _, name := range g.TopoOrder() {
		deps := g.Dependencies(name)
		if len(deps) == 0 {
			fmt.Println(name)
			continue
		}
		fmt.Printf("%s <- %s\n", name, strings.Join(deps, ", "))
	}
	return nil
}

func runStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.LogDir, "session-latest.json")
	summary, err := state.ReadSummary(path)
	if err != nil {
		if os.IsNotExist(err) {
			printInfo("no build session recorded yet")
			return nil
		}
		return err
	}

	printInfo(fmt.Sprintf("session %s, finished %s",
		summary.SessionID, summary.Finished.Format(time.RFC3339)))
	printSummary(summary)
	return nil
}

func printSummary(summary *types.SessionSummary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, r := range state.SortedResults(summary) {
		status := string(r.Status)
		switch r.Status {
		case types.StatusSucceeded:
			status = color.GreenString(status)
		case types.StatusFailed:
			status = color.RedString(status)
		case types.StatusSkipped:
			status = color.YellowString(status)
		}
		detail := r.Error
		if detail == "" && r.Cause != "" {
			detail = "cause: " + r.Cause
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.Name, status, r.Duration.Round(time.Millisecond), detail)
	}
	w.Flush()

	succeeded, failed, skipped := summary.Counts()
	msg := fmt.Sprintf("%d succeeded, %d failed, %d skipped", succeeded, failed, skipped)
	if failed == 0 && skipped == 0 {
		printSuccess(msg)
	} else {
		printError(msg)
	}
}

func applyBuildFlags(cfg *types.KilnConfig, flags buildFlags) {
	if flags.jobs > 0 {
		cfg.MaxConcurrency = flags.jobs
	}
	if flags.cleanup != "" {
		cfg.Cleanup = types.CleanupPolicy(flags.cleanup)
	}
}

// loadRecipes resolves the named recipes, or every recipe in dir when
// no names are given
func loadRecipes(dir string, names []string) ([]*types.Recipe, error) {
	if len(names) == 0 {
		return recipe.LoadDir(dir)
	}
	return recipe.LoadAll(dir, names)
}

func notifierConfig(cfg *types.KilnConfig, noNotify bool) notifier.Config {
	nc := notifier.Config{}
	if noNotify || cfg.Notifications == nil {
		return nc
	}
	nc.Enabled = cfg.Notifications.Enabled == nil || *cfg.Notifications.Enabled
	nc.SuccessSound = cfg.Notifications.SuccessSound
	nc.FailureSound = cfg.Notifications.FailureSound
	return nc
}
