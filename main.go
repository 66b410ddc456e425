package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AirmashQ/airmash-ground-control/game"
	"github.com/AirmashQ/airmash-ground-control/internal/config"
	"github.com/AirmashQ/airmash-ground-control/internal/logging"
	"github.com/AirmashQ/airmash-ground-control/server"
)

// shutdownTimeout bounds how long wingmen get to release their keys
const shutdownTimeout = 5 * time.Second

func main() {
	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "airmash-ground-control [flags] <server-url>...",
		Short:         "Dispatch wingmen bots on AIRMASH servers",
		Long:          "Ground control spectates one or more AIRMASH servers and sends wingmen after players who ask for them in chat.",
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), configFile, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, stdout)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	flags.Int("max-wingmen", config.DefaultMaxWingmen, "maximum number of wingmen per player")
	flags.Bool("no-announce", false, "do not greet players when they join")
	flags.String("name", config.DefaultName, "ground controller's name")
	flags.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("log-file", "", "also write logs to this file")
	flags.String("terrain", "", "terrain file (.yaml or .yaml.zst); defaults to the built-in map")
	return cmd
}

func run(ctx context.Context, cfg config.Config, stdout io.Writer) error {
	var logFile io.Writer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logFile = f
	}

	lm := logging.NewSlogManager(stdout)
	lm.Setup(logFile, cfg.LogLevel)
	logger := lm.Logger()
	slog.SetDefault(logger)

	grid := game.DefaultGrid()
	if cfg.Terrain != "" {
		var err error
		if grid, err = game.LoadTerrainFile(cfg.Terrain); err != nil {
			return err
		}
	}
	logger.Debug("Terrain loaded", "blocked_cells", grid.OccupiedCount())

	sup, err := server.NewSupervisor(logger)
	if err != nil {
		return err
	}

	// One ground control per server; a failing server does not stop the others
	var g errgroup.Group
	for _, url := range cfg.Servers {
		g.Go(func() error {
			return server.StartGroundControl(ctx, server.Options{
				URL:        url,
				Name:       cfg.Name,
				MaxWings:   cfg.MaxWingmen,
				Announce:   cfg.Announce,
				Grid:       grid,
				Supervisor: sup,
				Logger:     logger,
			})
		})
	}
	err = g.Wait()

	logger.Info("Shutting down", "wingmen", sup.Active())
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if derr := sup.Drain(drainCtx); derr != nil {
		logger.Warn("Shutdown error", "error", derr)
	}

	logger.Info("Ground control stopped")
	return err
}
