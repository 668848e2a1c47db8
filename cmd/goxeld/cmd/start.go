package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/goxel/goxeld/internal/config"
	"github.com/goxel/goxeld/internal/logging"
	"github.com/goxel/goxeld/internal/supervisor"
)

var devMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start goxeld.

Examples:
  # Start with config file settings
  goxeld start

  # Start in development mode (relaxed defaults, debug logging)
  goxeld start --dev

  # Start with a specific config file
  goxeld --config /path/to/goxeld.yaml start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode (throwaway socket, debug logging, remote shutdown allowed)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(devMode)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	writer, err := logging.NewReopenableWriter("")
	if err != nil {
		return fmt.Errorf("failed to open log writer: %w", err)
	}
	logger := logging.New(writer, logging.ParseLevel(cfg.LogLevel))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	sup := supervisor.New(cfg, logger, nil)
	sup.SetLogWriter(writer)

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill instead of waiting on a graceful drain that never finishes.
	ctx, stop := signal.NotifyContext(context.Background(), supervisor.GracefulSignals()...)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			sup.ReopenLogs()
			logger.Info("reopened log file on SIGHUP")
		}
	}()
	defer signal.Stop(hup)

	logger.Info("starting goxeld", "socket", cfg.SocketPath, "version", Version)
	return sup.Run(ctx)
}
