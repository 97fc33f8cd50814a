// Command update-bootstrap stages an offline update package and drives it
// through the engine, forwarding the engine's exit status (spec.md §4.6,
// §6).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/update-agent/internal/actions"
	"github.com/cuemby/update-agent/internal/backup"
	"github.com/cuemby/update-agent/internal/bootstrap"
	"github.com/cuemby/update-agent/internal/checks"
	"github.com/cuemby/update-agent/internal/config"
	"github.com/cuemby/update-agent/internal/engine"
	"github.com/cuemby/update-agent/internal/hostadapters"
	"github.com/cuemby/update-agent/internal/progress"
	"github.com/cuemby/update-agent/internal/semver"
	"github.com/cuemby/update-agent/internal/statestore"
	applogger "github.com/cuemby/update-agent/pkg/logger"
)

// installedEngineVersion identifies this binary's own engine version
// against a package's required_engine_version (spec.md §4.6). It is a
// parsed semver.Version fixed in the source, so -ldflags -X cannot set it.
var installedEngineVersion = semver.MustParse("1.0.0")

var (
	cfgFile     string
	baseDirFlag string
	dryRun      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(bootstrap.ExitUsage)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "update-bootstrap <package.tar.gz>",
		Short:        "Stage and apply an offline, manifest-driven update package",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runApply,
	}
	root.Flags().BoolVar(&dryRun, "dry-run", false, "stage and validate the package, but run no actions")
	root.Flags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.Flags().StringVar(&baseDirFlag, "base-dir", "", "override the configured base directory")
	return root
}

func newConsoleLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

func runApply(cmd *cobra.Command, args []string) error {
	packagePath := args[0]
	console := newConsoleLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		console.Error().Err(err).Msg("loading configuration failed")
		return err
	}
	if baseDirFlag != "" {
		cfg.BaseDir = baseDirFlag
	}

	jsonLogger := applogger.NewLogger(applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	jsonLogger = jsonLogger.With("component", "update-bootstrap")

	stateDir := filepath.Join(cfg.BaseDir, "state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		console.Error().Err(err).Msg("preparing state directory failed")
		return err
	}

	lock, err := statestore.AcquireProcessLock(filepath.Join(stateDir, cfg.Lock.Filename))
	if err != nil {
		console.Warn().Msg("another update job is already running")
		fmt.Println(color.YellowString("busy: another update job is already running"))
		os.Exit(bootstrap.ExitBusy)
	}
	defer lock.Release()

	exitCode, result, err := apply(cmd.Context(), cfg, jsonLogger, packagePath)
	if err != nil {
		console.Error().Err(err).Msg("update run failed")
		return err
	}

	printSummary(console, exitCode, result)
	os.Exit(exitCode)
	return nil
}

func apply(ctx context.Context, cfg *config.Config, jsonLogger *slog.Logger, packagePath string) (int, *bootstrap.Result, error) {
	store, err := statestore.New(cfg.BaseDir)
	if err != nil {
		return 0, nil, err
	}
	backups, err := backup.NewManager(cfg.BaseDir)
	if err != nil {
		return 0, nil, err
	}
	bus := progress.NewBus(jsonLogger, progress.NewMetrics("updater"))

	eng := engine.New(engine.Config{
		Checks:     checks.NewRegistry(),
		Actions:    actions.NewRegistry(),
		Backups:    backups,
		Store:      store,
		Bus:        bus,
		Containers: &hostadapters.ExecContainerRuntime{},
		Services:   &hostadapters.ExecServiceSupervisor{},
		HTTP:       &hostadapters.HTTPHostProbe{},
		Logger:     jsonLogger,
	})

	if recovered, err := eng.RecoverInterrupted(); err != nil {
		jsonLogger.Error("recovering interrupted jobs failed", "error", err)
	} else if len(recovered) > 0 {
		jsonLogger.Warn("recovered interrupted jobs from a previous run", "count", len(recovered))
	}

	b := bootstrap.New(cfg.BaseDir, installedEngineVersion, eng, cfg.Job.LogCapacity, jsonLogger)
	result, err := b.Apply(ctx, packagePath, dryRun, "")
	if err != nil {
		return 0, nil, err
	}
	return result.ExitCode, result, nil
}

func printSummary(console zerolog.Logger, exitCode int, result *bootstrap.Result) {
	switch exitCode {
	case bootstrap.ExitSuccess:
		fmt.Println(color.GreenString("update applied successfully"))
	case bootstrap.ExitEngineTooOld:
		fmt.Println(color.RedString("installed engine is too old and the package bundles no newer engine"))
	case bootstrap.ExitIntegrityFailure:
		fmt.Println(color.RedString("package integrity check failed"))
	case bootstrap.ExitRollbackFailed:
		fmt.Println(color.RedString("update failed and rollback also failed: host state may be inconsistent"))
	case bootstrap.ExitJobFailed:
		fmt.Println(color.YellowString("update failed"))
	default:
		fmt.Println(color.RedString("update-bootstrap exited with code %d", exitCode))
	}

	if result != nil && result.Job != nil {
		console.Info().
			Str("job_id", result.Job.JobID).
			Str("status", string(result.Job.Status)).
			Int("completed_actions", result.Job.Progress.CompletedActions).
			Int("total_actions", result.Job.Progress.TotalActions).
			Msg("job finished")
	}
}
