package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	manifestPath string
	lockfilePath string
	cacheDir     string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "agentdep",
	Short: "Git-native dependency manager for agent resource files",
	Long: `agentdep installs declarative resource files (agents, commands, snippets)
from git repositories and local paths into tool-specific project locations.
Every resource is pinned to a commit and content checksum in agentdep.lock,
so repeated installs are reproducible.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agentdep %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "", "path to manifest (default: discover agentdep.yaml upward)")
	rootCmd.PersistentFlags().StringVar(&lockfilePath, "lockfile", "", "path to lockfile (default: agentdep.lock next to the manifest)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "shared cache directory (default: ~/.cache/agentdep)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "none", "log level: debug, info, none")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
