package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dyluth/proofbench/internal/catalog"
	"github.com/dyluth/proofbench/internal/config"
	"github.com/dyluth/proofbench/internal/git"
	"github.com/dyluth/proofbench/internal/hostinfo"
	"github.com/dyluth/proofbench/internal/invoker"
	"github.com/dyluth/proofbench/internal/printer"
	"github.com/dyluth/proofbench/internal/scheduler"
	"github.com/dyluth/proofbench/internal/sink"
	"github.com/dyluth/proofbench/pkg/progress"
	"github.com/spf13/cobra"
)

var (
	runConfigPath    string
	runIterations    int
	runJobs          int
	runOutput        string
	runOnly          []string
	runRedisURL      string
	runFailureMarker string
)

var runCmd = &cobra.Command{
	Use:   "run <proofs-dir>",
	Short: "Time every proof in a directory",
	Long: `Run every proof found under <proofs-dir> the requested number of times
and record the wall-clock time of each iteration.

For each iteration the configured prepare steps run first and are not
timed; only the measured command is. The exit status of the measured
command is ignored: a proof that fails quickly is timed like one that
passes quickly. An iteration whose command cannot be started at all is
recorded as a failure and the run continues.

Without a proofbench.yml the make recipe is used: 'make veryclean' and
'make goto' untimed, then 'make result' timed, each run inside the proof's
own directory. A config file runs commands in the current directory unless
it sets measure.workdir: proof.

Results are rewritten atomically after every iteration, so an interrupted
run leaves a valid CSV holding every iteration that completed.

Examples:
  # Five timings per proof, four proofs at a time
  proofbench run ./proofs -n 5 -j 4 -o timings.csv

  # Only the byte_buf proofs, mirrored to Redis for 'proofbench watch'
  proofbench run ./proofs --only 'aws_byte_buf_*' --redis-url redis://localhost:6379/0`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", config.DefaultFile, "Path to configuration file")
	runCmd.Flags().IntVarP(&runIterations, "iterations", "n", 1, "Timed iterations per proof")
	runCmd.Flags().IntVarP(&runJobs, "jobs", "j", 1, "Maximum proofs running at once")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "results.csv", "Results CSV path")
	runCmd.Flags().StringSliceVar(&runOnly, "only", nil, "Glob patterns selecting which proofs to run")
	runCmd.Flags().StringVar(&runRedisURL, "redis-url", "", "Mirror progress to this Redis server")
	runCmd.Flags().StringVar(&runFailureMarker, "failure-marker", "", "Text written for iterations that failed to launch")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()

	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"Config": runConfigPath},
			[]string{"Fix the file, or create a fresh one with:\n  proofbench init --force"},
		)
	}

	proofs, err := discover(args[0], cfg.Discovery)
	if err != nil {
		return err
	}

	host, err := hostinfo.Collect(ctx)
	if err != nil {
		logger.Warn("could not inspect host", "error", err)
	}
	if host.Oversubscribed(cfg.Run.Jobs) {
		printer.Warning("%d jobs on %d logical CPUs: timings will include contention\n", cfg.Run.Jobs, host.LogicalCPUs)
	}

	rev, err := git.NewChecker().Revision(ctx, args[0])
	if err != nil && !errors.Is(err, git.ErrNotRepository) {
		logger.Debug("could not resolve proof suite revision", "error", err)
	}
	if rev.Dirty {
		printer.Warning("%s has uncommitted changes; timings may not match any commit\n", args[0])
	}

	snk, err := sink.Open(cfg.Output.Path, catalog.Names(proofs), sink.Options{FailureMarker: cfg.Output.FailureMarker})
	if err != nil {
		return printer.Error(
			"results file not writable",
			err.Error(),
			[]string{"Choose a writable location with --output"},
		)
	}
	defer snk.Close()

	inv, err := invoker.FromConfig(cfg.Measure, logger)
	if err != nil {
		return printer.Error("invalid measure configuration", err.Error(), nil)
	}

	mirror := startMirror(ctx, cfg, runSource{Dir: args[0], Revision: rev.String(), Host: host.String()}, snk.Path(), len(proofs), logger)
	var observers []scheduler.Observer
	if mirror != nil {
		defer mirror.Close()
		observers = append(observers, mirror.PublishRecord)
	}

	sched, err := scheduler.New(inv, snk, scheduler.Options{
		Jobs:      cfg.Run.Jobs,
		Logger:    logger,
		Observers: observers,
	})
	if err != nil {
		return err
	}

	printer.Step("Timing %d proofs × %d iterations, %d at a time\n", len(proofs), cfg.Run.Iterations, cfg.Run.Jobs)
	logger.Debug("host", "info", host.String(), "revision", rev.String())

	summary, runErr := sched.Run(ctx, proofs, cfg.Run.Iterations)
	finishMirror(mirror, summary, runErr, logger)

	if runErr != nil {
		return reportRunError(ctx, runErr, summary, snk.Path(), cfg.Measure.KillOnInterrupt)
	}

	printer.Success("Recorded %d/%d iterations in %s to %s\n",
		summary.Recorded, summary.Units, summary.Elapsed.Round(time.Millisecond), snk.Path())
	if summary.LaunchFailures > 0 {
		printer.Warning("%d iterations could not be launched and were left out of the timings\n", summary.LaunchFailures)
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadRunConfig loads the config file and applies command-line overrides.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(runConfigPath, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("iterations") {
		if runIterations < 1 {
			return nil, fmt.Errorf("--iterations must be >= 1, got %d", runIterations)
		}
		cfg.Run.Iterations = runIterations
	}
	if flags.Changed("jobs") {
		if runJobs < 1 {
			return nil, fmt.Errorf("--jobs must be >= 1, got %d", runJobs)
		}
		cfg.Run.Jobs = runJobs
	}
	if flags.Changed("output") {
		cfg.Output.Path = runOutput
	}
	if flags.Changed("only") {
		cfg.Discovery.Only = runOnly
	}
	if flags.Changed("failure-marker") {
		cfg.Output.FailureMarker = runFailureMarker
	}
	if flags.Changed("redis-url") {
		if runRedisURL == "" {
			cfg.Progress = nil
		} else {
			cfg.Progress = &config.ProgressConfig{RedisURL: runRedisURL}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// discover enumerates proofs and applies the --only filter, reporting
// failures as operator errors.
func discover(dir string, d config.DiscoveryConfig) ([]catalog.Proof, error) {
	proofs, err := catalog.Discover(dir, d.Marker)
	if err == nil {
		proofs, err = catalog.Filter(proofs, d.Only)
	}
	if err == nil {
		return proofs, nil
	}

	var de *catalog.DiscoveryError
	if errors.As(err, &de) {
		return nil, printer.ErrorWithContext(
			"no proofs to run",
			de.Error(),
			map[string]string{"Proofs dir": dir, "Marker": d.Marker},
			[]string{
				fmt.Sprintf("Check that each proof directory contains a %s", d.Marker),
				"Set discovery.marker in proofbench.yml to the file your proofs use",
			},
		)
	}
	return nil, printer.Error("invalid proof filter", err.Error(), []string{"Patterns use shell glob syntax, e.g. --only 'aws_byte_buf_*'"})
}

// runSource describes where a run's proofs come from and where they run.
type runSource struct {
	Dir      string
	Revision string
	Host     string
}

// startMirror connects to Redis when progress mirroring is configured.
// Mirroring is best effort: any failure is logged and the run goes ahead.
func startMirror(ctx context.Context, cfg *config.Config, src runSource, output string, proofs int, logger *slog.Logger) *progress.Client {
	if cfg.Progress == nil {
		return nil
	}

	client, err := progress.NewClientFromURL(cfg.Progress.RedisURL, progress.NewRunID())
	if err != nil {
		logger.Warn("progress mirroring disabled", "error", err)
		return nil
	}
	if err := client.Ping(ctx); err != nil {
		logger.Warn("progress mirroring disabled: redis unreachable", "url", cfg.Progress.RedisURL, "error", err)
		client.Close()
		return nil
	}

	absDir, _ := filepath.Abs(src.Dir)
	err = client.StartRun(ctx, &progress.RunMeta{
		ProofsDir:  absDir,
		Output:     output,
		Host:       src.Host,
		Revision:   src.Revision,
		Proofs:     proofs,
		Iterations: cfg.Run.Iterations,
		Jobs:       cfg.Run.Jobs,
	})
	if err != nil {
		logger.Warn("progress mirroring disabled", "error", err)
		client.Close()
		return nil
	}

	printer.Info("Run ID: %s (follow with: proofbench watch --run-id %s)\n", client.RunID(), client.RunID())
	return client
}

func finishMirror(mirror *progress.Client, summary scheduler.Summary, runErr error, logger *slog.Logger) {
	if mirror == nil {
		return
	}
	status := progress.RunStatusFinished
	if runErr != nil || !summary.Complete() {
		status = progress.RunStatusInterrupted
	}

	// The run context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mirror.FinishRun(ctx, status, summary.Recorded, summary.LaunchFailures); err != nil {
		logger.Warn("failed to mark run finished in redis", "error", err)
	}
}

func reportRunError(ctx context.Context, err error, summary scheduler.Summary, output string, killed bool) error {
	var we *sink.WriteError
	switch {
	case errors.As(err, &we):
		return printer.ErrorWithContext(
			"failed to write results",
			we.Error(),
			map[string]string{"Durable iterations": fmt.Sprintf("%d of %d", summary.Recorded, summary.Units)},
			[]string{"Check free space and permissions for " + output},
		)

	case ctx.Err() != nil:
		printer.Warning("Interrupted: %d of %d iterations are recorded in %s\n", summary.Recorded, summary.Units, output)
		if !killed {
			printer.Warning("Proofs that were running may still be executing; set measure.kill_on_interrupt to stop them\n")
		}
		return ErrInterrupted

	default:
		return printer.Error("run failed", err.Error(), nil)
	}
}
