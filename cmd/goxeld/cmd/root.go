// Package cmd provides the CLI commands for goxeld, a headless voxel
// editing daemon speaking newline-delimited JSON-RPC 2.0 over a Unix
// domain socket.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/goxel/goxeld/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "goxeld",
	Short: "goxeld - headless voxel editing daemon",
	Long: `goxeld is a headless voxel editing daemon. It exposes a voxel scene
(create/edit/layer/export/render) over newline-delimited JSON-RPC 2.0 on a
Unix domain socket, so any client on the same host can script voxel edits
without embedding the engine itself.

Quick start:
  1. Create a config file: goxeld.yaml
  2. Run: goxeld start

Configuration:
  Config is loaded from goxeld.yaml in the current directory, $HOME/.goxel/,
  or /etc/goxeld/.

  Environment variables can override config values with the GOXEL_ prefix.
  Example: GOXEL_SOCKET_PATH=/run/goxeld.sock

Commands:
  start       Start the daemon
  stop        Stop the running daemon
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./goxeld.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
