// Package cachectx provides an explicit handle to the shared on-disk cache
// layout. Every component that touches the cache receives a *Context
// instead of reading a global directory, so tests can run against isolated
// temporary roots.
package cachectx

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Context describes the cache directory layout rooted at Root.
//
// Layout:
//
//	<root>/mirrors/<source>    bare git mirrors, one per remote
//	<root>/worktrees/<commit>  materialized checkouts, one per commit
//	<root>/locks/              advisory lock files for cross-process use
type Context struct {
	Root string
}

// New creates a Context rooted at dir and ensures the layout exists.
func New(dir string) (*Context, error) {
	c := &Context{Root: dir}
	for _, d := range []string{c.MirrorsDir(), c.WorktreesDir(), c.LocksDir()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", d, err)
		}
	}
	return c, nil
}

// DefaultDir returns the default cache directory.
// Uses XDG_CACHE_HOME if set, otherwise ~/.cache/agentdep.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentdep")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		if runtime.GOOS == "windows" {
			return filepath.Join(os.TempDir(), "agentdep-cache")
		}
		return filepath.Join("/tmp", "agentdep-cache")
	}
	return filepath.Join(home, ".cache", "agentdep")
}

// MirrorsDir returns the directory holding bare repository mirrors.
func (c *Context) MirrorsDir() string { return filepath.Join(c.Root, "mirrors") }

// WorktreesDir returns the directory holding commit-keyed checkouts.
func (c *Context) WorktreesDir() string { return filepath.Join(c.Root, "worktrees") }

// LocksDir returns the directory holding advisory lock files.
func (c *Context) LocksDir() string { return filepath.Join(c.Root, "locks") }

// LockPath returns the path of the named advisory lock file.
func (c *Context) LockPath(name string) string {
	return filepath.Join(c.LocksDir(), name+".lock")
}
