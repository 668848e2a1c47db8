package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/goxel/goxeld/internal/supervisor"
)

// Build information. Populated at build time via -ldflags.
var (
	Version   = "0.0.0-dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit, and build date of goxeld.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("goxeld %s\n", Version)
		fmt.Printf("  Commit:     %s\n", Commit)
		fmt.Printf("  Built:      %s\n", BuildDate)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	supervisor.Version = Version
	rootCmd.AddCommand(versionCmd)
}
