// Command server runs the update agent's HTTP/SSE job service: the
// browser-facing boundary in front of the same engine, backup manager, and
// state store the update-bootstrap CLI drives directly (spec.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/update-agent/internal/actions"
	"github.com/cuemby/update-agent/internal/api"
	"github.com/cuemby/update-agent/internal/backup"
	"github.com/cuemby/update-agent/internal/checks"
	"github.com/cuemby/update-agent/internal/config"
	"github.com/cuemby/update-agent/internal/engine"
	"github.com/cuemby/update-agent/internal/hostadapters"
	"github.com/cuemby/update-agent/internal/progress"
	"github.com/cuemby/update-agent/internal/semver"
	"github.com/cuemby/update-agent/internal/statestore"
	applogger "github.com/cuemby/update-agent/pkg/logger"
)

const serviceVersion = "1.0.0"

// installedEngineVersion mirrors cmd/update-bootstrap's own variable; both
// are fixed in the source to the same value.
var installedEngineVersion = semver.MustParse("1.0.0")

func main() {
	showVersion := flag.Bool("version", false, "show version information")
	cfgFile := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("update-agent-server version %s\n", serviceVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := applogger.NewLogger(applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}).With("component", "update-agent-server")

	store, err := statestore.New(cfg.BaseDir)
	if err != nil {
		logger.Error("initializing state store failed", "error", err)
		os.Exit(1)
	}
	backups, err := backup.NewManager(cfg.BaseDir)
	if err != nil {
		logger.Error("initializing backup manager failed", "error", err)
		os.Exit(1)
	}
	bus := progress.NewBus(logger, progress.NewMetrics("updater"))

	eng := engine.New(engine.Config{
		Checks:     checks.NewRegistry(),
		Actions:    actions.NewRegistry(),
		Backups:    backups,
		Store:      store,
		Bus:        bus,
		Containers: &hostadapters.ExecContainerRuntime{},
		Services:   &hostadapters.ExecServiceSupervisor{},
		HTTP:       &hostadapters.HTTPHostProbe{},
		Logger:     logger,
	})

	if recovered, err := eng.RecoverInterrupted(); err != nil {
		logger.Error("recovering interrupted jobs failed", "error", err)
	} else if len(recovered) > 0 {
		logger.Warn("recovered interrupted jobs from a previous run", "count", len(recovered))
	}

	srv := &api.Server{
		BaseDir:              cfg.BaseDir,
		Store:                store,
		Backups:              backups,
		Bus:                  bus,
		Engine:               eng,
		InstalledVersion:     installedEngineVersion,
		BootstrapLogCapacity: cfg.Job.LogCapacity,
		Logger:               logger,
	}

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Router(),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("http server starting", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}
