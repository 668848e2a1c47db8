package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/goxel/goxeld/internal/config"
	"github.com/goxel/goxeld/internal/supervisor"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Long: `Stop a running goxeld daemon by reading its PID file and sending SIGTERM.

Examples:
  # Stop the running daemon
  goxeld stop`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func pidFilePath() string {
	cfg, err := config.LoadConfigRaw()
	if err == nil && cfg.PidfilePath != "" {
		return cfg.PidfilePath
	}
	return filepath.Join(os.TempDir(), "goxeld.pid")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()

	pid := supervisor.ReadPidfile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no daemon PID file found at %s\nIs the daemon running?", pidPath)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("invalid PID %d: %w", pid, err)
	}

	if !supervisor.ProcessIsAlive(proc) {
		os.Remove(pidPath)
		return fmt.Errorf("daemon process %d is not running (stale PID file removed)", pid)
	}

	fmt.Fprintf(os.Stderr, "Stopping goxeld (PID %d)...\n", pid)
	if err := supervisor.SendGracefulStop(proc); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(200 * time.Millisecond)
		if !supervisor.ProcessIsAlive(proc) {
			os.Remove(pidPath)
			fmt.Fprintf(os.Stderr, "Daemon stopped.\n")
			return nil
		}
	}

	fmt.Fprintf(os.Stderr, "Daemon did not stop gracefully, sending SIGKILL...\n")
	_ = proc.Kill()
	os.Remove(pidPath)
	fmt.Fprintf(os.Stderr, "Daemon killed.\n")
	return nil
}
