package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/proofbench/internal/config"
	"github.com/dyluth/proofbench/internal/printer"
	"github.com/dyluth/proofbench/internal/watch"
	"github.com/dyluth/proofbench/pkg/progress"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const defaultRedisURL = "redis://localhost:6379/0"

var (
	watchRunID        string
	watchRedisURL     string
	watchConfigPath   string
	watchOutputFormat string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a run's progress from Redis",
	Long: `Stream the progress of a run started with progress mirroring enabled.

Records already stored are printed first, then new ones as they are
written, until the run finishes.

Output Formats:
  default - Human-readable output
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Follow the most recent run
  proofbench watch --redis-url redis://localhost:6379/0

  # Follow a specific run, as JSON
  proofbench watch --run-id 3f0c... --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchRunID, "run-id", "", "Run to follow (default: most recent)")
	watchCmd.Flags().StringVar(&watchRedisURL, "redis-url", "", "Redis server (default: progress.redis_url or "+defaultRedisURL+")")
	watchCmd.Flags().StringVarP(&watchConfigPath, "config", "c", config.DefaultFile, "Path to configuration file")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	format, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, json"})
	}

	redisURL, err := resolveRedisURL(cmd)
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return printer.Error("invalid redis URL", err.Error(), []string{"Use the form redis://host:port/db"})
	}

	runID := watchRunID
	if runID == "" {
		runID, err = progress.LatestRunID(ctx, redisOpts)
		if progress.IsNotFound(err) {
			return printer.Error(
				"no runs found",
				fmt.Sprintf("No mirrored runs are recorded in Redis at %s.", redisURL),
				[]string{"Start a run with progress mirroring:\n  proofbench run ./proofs --redis-url " + redisURL},
			)
		}
		if err != nil {
			return printer.ErrorWithContext("Redis connection failed", err.Error(), map[string]string{"Redis": redisURL}, nil)
		}
	}

	client, err := progress.NewClient(redisOpts, runID)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return printer.ErrorWithContext("Redis connection failed", err.Error(), map[string]string{"Redis": redisURL}, nil)
	}

	err = watch.StreamProgress(ctx, client, format, printer.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return printer.ErrorWithContext("watch failed", err.Error(), map[string]string{"Run ID": runID}, nil)
	}
	return nil
}

// resolveRedisURL picks the flag, then the config file, then the default.
func resolveRedisURL(cmd *cobra.Command) (string, error) {
	if watchRedisURL != "" {
		return watchRedisURL, nil
	}
	cfg, err := config.LoadOrDefault(watchConfigPath, cmd.Flags().Changed("config"))
	if err != nil {
		return "", err
	}
	if cfg.Progress != nil {
		return cfg.Progress.RedisURL, nil
	}
	return defaultRedisURL, nil
}
