package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bianoble/agentdep/pkg/agentdep"
)

var (
	installParallel   int
	installNoLock     bool
	installPrerelease bool
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Resolve the manifest's dependencies and install them",
	Long: `Resolves every manifest dependency (and the dependencies declared inside
fetched resources) to a single commit per source and version, installs the
files with bounded parallelism, and writes agentdep.lock on full success.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := agentdep.New(agentdep.Options{
			ManifestPath:      manifestPath,
			LockfilePath:      lockfilePath,
			CacheDir:          cacheDir,
			MaxParallel:       installParallel,
			NoLock:            installNoLock,
			IncludePrerelease: installPrerelease,
			LogLevel:          logLevel,
		})
		if err != nil {
			return err
		}

		result, err := client.Install(cmd.Context())
		if err != nil {
			return err
		}

		for _, e := range result.Installed {
			fmt.Printf("  installed  %s  %s@%s\n", e.Name, e.Path, e.Version)
		}
		for _, f := range result.Failed {
			fmt.Printf("  failed     %s  [%s] %s\n", f.Node, f.ErrorKind, f.Message)
		}
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d of %d dependencies failed", len(result.Failed), len(result.Failed)+len(result.Installed))
		}

		fmt.Printf("installed %d resources\n", len(result.Installed))
		return nil
	},
}

func init() {
	installCmd.Flags().IntVar(&installParallel, "parallel", 0, "max concurrent installs (default: number of CPUs)")
	installCmd.Flags().BoolVar(&installNoLock, "no-lock", false, "skip writing the lockfile")
	installCmd.Flags().BoolVar(&installPrerelease, "include-prerelease", false, "allow pre-release tags for unconstrained versions")

	rootCmd.AddCommand(installCmd)
}
