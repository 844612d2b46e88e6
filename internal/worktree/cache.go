// Package worktree maintains commit-keyed filesystem checkouts. A commit
// has at most one worktree; many (source, version) pairs pointing at the
// same commit share it. Worktrees persist across runs and the directory is
// shared across processes behind per-commit advisory locks.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/bianoble/agentdep/internal/cachectx"
	"github.com/bianoble/agentdep/internal/errdefs"
	"github.com/bianoble/agentdep/internal/gitrepo"
)

// Cache is a deduplicated store of checked-out commits.
type Cache struct {
	cctx *cachectx.Context
	log  *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry

	created atomic.Int64
}

// entry tracks one commit's in-process checkout state. The first caller
// performs the checkout (Pending); waiters block on done until Ready.
type entry struct {
	done chan struct{}
	path string
	err  error
}

// NewCache creates a Cache over the given cache context.
func NewCache(cctx *cachectx.Context, log *zap.Logger) *Cache {
	return &Cache{
		cctx:    cctx,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Acquire returns the worktree path for a commit, checking it out from the
// source's mirror on first use. Concurrent callers for the same commit
// block until the first caller finishes, then share the same path.
func (c *Cache) Acquire(ctx context.Context, mirrorPath, commit string) (string, error) {
	c.mu.Lock()
	e, ok := c.entries[commit]
	if ok {
		c.mu.Unlock()
		select {
		case <-e.done:
			return e.path, e.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	e = &entry{done: make(chan struct{})}
	c.entries[commit] = e
	c.mu.Unlock()

	e.path, e.err = c.materialize(ctx, mirrorPath, commit)
	close(e.done)
	return e.path, e.err
}

// Creations returns the number of checkouts actually performed, excluding
// reuse of worktrees left by earlier runs. Used by dedup tests.
func (c *Cache) Creations() int64 { return c.created.Load() }

// Clean removes all cached worktrees. Callers must ensure no invocation is
// using them; the pipeline never calls this itself.
func (c *Cache) Clean() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.RemoveAll(c.cctx.WorktreesDir()); err != nil {
		return fmt.Errorf("removing worktrees: %w", err)
	}
	c.entries = make(map[string]*entry)
	return os.MkdirAll(c.cctx.WorktreesDir(), 0755)
}

// Path returns the final worktree directory for a commit without
// materializing it.
func (c *Cache) Path(commit string) string {
	return filepath.Join(c.cctx.WorktreesDir(), commit)
}

// materialize checks a commit out of the mirror into the cache under the
// commit's cross-process lock. The rename into the final path is the sole
// publication point: an interrupted checkout leaves only a temp directory.
func (c *Cache) materialize(ctx context.Context, mirrorPath, commit string) (string, error) {
	final := c.Path(commit)

	fl := flock.New(c.cctx.LockPath("worktree-" + commit))
	locked, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !locked {
		return "", &errdefs.InstallIOError{
			Node: commit,
			Op:   "acquiring worktree lock",
			Err:  err,
		}
	}
	defer func() { _ = fl.Unlock() }()

	// Another process (or an earlier run) may have finished already.
	if _, statErr := os.Stat(final); statErr == nil {
		return final, nil
	}

	tmp, err := os.MkdirTemp(c.cctx.WorktreesDir(), ".checkout-"+commit[:12]+"-*")
	if err != nil {
		return "", &errdefs.InstallIOError{Node: commit, Op: "creating checkout temp dir", Err: err}
	}
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := checkout(ctx, mirrorPath, commit, tmp); err != nil {
		return "", &errdefs.InstallIOError{Node: commit, Op: "checking out commit", Err: err}
	}

	if err := os.Rename(tmp, final); err != nil {
		// A concurrent racer winning the rename is fine; everything else
		// is a real failure.
		if _, statErr := os.Stat(final); statErr == nil {
			return final, nil
		}
		return "", &errdefs.InstallIOError{Node: commit, Op: "publishing worktree", Err: err}
	}
	cleanup = false

	c.created.Add(1)
	c.log.Debug("created worktree", zap.String("commit", commit), zap.String("path", final))
	return final, nil
}

// checkout clones the commit's tree into dest as plain files. The clone
// shares objects with the mirror; the .git directory is removed so the
// worktree is a pure content snapshot.
func checkout(ctx context.Context, mirrorPath, commit, dest string) error {
	// MkdirTemp already created dest empty; clone accepts an empty dir.
	if _, err := gitrepo.Git(ctx, "", "clone", "--shared", "--no-checkout", mirrorPath, dest); err != nil {
		return err
	}
	if _, err := gitrepo.Git(ctx, dest, "checkout", "--detach", commit); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(dest, ".git"))
}
