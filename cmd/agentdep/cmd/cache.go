package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bianoble/agentdep/internal/cachectx"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the shared git cache",
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove all cached mirrors and worktrees",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cacheDir
		if dir == "" {
			dir = cachectx.DefaultDir()
		}
		cctx := cachectx.Context{Root: dir}

		for _, d := range []string{cctx.MirrorsDir(), cctx.WorktreesDir(), cctx.LocksDir()} {
			if err := os.RemoveAll(d); err != nil {
				return fmt.Errorf("cleaning %s: %w", d, err)
			}
		}

		fmt.Printf("cleaned cache at %s\n", dir)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheCleanCmd)
	rootCmd.AddCommand(cacheCmd)
}
