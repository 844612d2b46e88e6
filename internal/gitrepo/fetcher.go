// Package gitrepo maintains one local bare mirror per remote repository and
// resolves refs against it. A mirror is fetched at most once per run, even
// under concurrent requests, and the mirror directory is shared across
// processes behind a per-source advisory lock.
package gitrepo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/bianoble/agentdep/internal/cachectx"
	"github.com/bianoble/agentdep/internal/errdefs"
	"github.com/bianoble/agentdep/internal/manifest"
)

// ErrRefNotFound is returned by ResolveRef when a ref does not exist in the
// source's mirror.
var ErrRefNotFound = errors.New("ref not found")

// retryBackoff is the wait before the single fetch retry.
var retryBackoff = 500 * time.Millisecond

// RefList holds the refs of a fetched mirror. Tag entries are peeled to the
// commit they point at.
type RefList struct {
	Tags     map[string]string // tag name -> commit sha
	Branches map[string]string // branch name -> commit sha
	Head     string            // default branch commit sha
}

// Fetcher resolves manifest sources to local mirrors. Safe for concurrent
// use; each source is fetched at most once per Fetcher lifetime.
type Fetcher struct {
	cctx *cachectx.Context
	log  *zap.Logger

	mu     sync.Mutex
	states map[string]*sourceState
}

type sourceState struct {
	mu         sync.Mutex
	fetched    bool
	refs       RefList
	err        error
	fetchCount int
}

// NewFetcher creates a Fetcher over the given cache context.
func NewFetcher(cctx *cachectx.Context, log *zap.Logger) *Fetcher {
	return &Fetcher{
		cctx:   cctx,
		log:    log,
		states: make(map[string]*sourceState),
	}
}

// MirrorPath returns the on-disk mirror directory for a source.
func (f *Fetcher) MirrorPath(src manifest.Source) string {
	return filepath.Join(f.cctx.MirrorsDir(), mirrorName(src.Remote))
}

// EnsureFetched clones or updates the source's mirror and returns its refs.
// Idempotent per run: concurrent and repeated calls for the same source
// perform at most one network fetch and observe the same result.
func (f *Fetcher) EnsureFetched(ctx context.Context, src manifest.Source) (RefList, error) {
	st := f.state(src.Name)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.fetched {
		return st.refs, st.err
	}
	st.fetched = true

	refs, err := f.fetch(ctx, src, st)
	st.refs, st.err = refs, err
	return refs, err
}

// ResolveRef resolves a ref name or commit sha against the source's mirror.
// Returns ErrRefNotFound (wrapped) when nothing matches.
func (f *Fetcher) ResolveRef(ctx context.Context, src manifest.Source, ref string) (string, error) {
	refs, err := f.EnsureFetched(ctx, src)
	if err != nil {
		return "", err
	}

	if commit, ok := refs.Tags[ref]; ok {
		return commit, nil
	}
	if commit, ok := refs.Branches[ref]; ok {
		return commit, nil
	}

	// Fall back to rev-parse for commit shas and abbreviated forms.
	out, gitErr := Git(ctx, f.MirrorPath(src), "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if gitErr != nil {
		return "", fmt.Errorf("source '%s': %w: %s", src.Name, ErrRefNotFound, ref)
	}
	return strings.TrimSpace(out), nil
}

// FetchCount returns the number of network fetches performed for a source.
// Used by tests asserting run idempotence.
func (f *Fetcher) FetchCount(sourceName string) int {
	st := f.state(sourceName)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.fetchCount
}

func (f *Fetcher) state(name string) *sourceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[name]
	if !ok {
		st = &sourceState{}
		f.states[name] = st
	}
	return st
}

// fetch performs the network fetch under the cross-process mirror lock.
// Called with the source state lock held.
func (f *Fetcher) fetch(ctx context.Context, src manifest.Source, st *sourceState) (RefList, error) {
	mirror := f.MirrorPath(src)

	fl := flock.New(f.cctx.LockPath("mirror-" + mirrorName(src.Remote)))
	locked, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !locked {
		return RefList{}, &errdefs.SourceFetchError{
			Source: src.Name,
			Remote: src.Remote,
			Err:    fmt.Errorf("acquiring mirror lock: %w", err),
		}
	}
	defer func() { _ = fl.Unlock() }()

	st.fetchCount++
	f.log.Debug("fetching source",
		zap.String("source", src.Name),
		zap.String("remote", src.Remote),
		zap.String("mirror", mirror))

	if err := f.updateMirror(ctx, src, mirror); err != nil {
		// One retry with backoff, then surface.
		f.log.Warn("fetch failed, retrying", zap.String("source", src.Name), zap.Error(err))
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return RefList{}, &errdefs.SourceFetchError{Source: src.Name, Remote: src.Remote, Err: ctx.Err()}
		}
		st.fetchCount++
		if err = f.updateMirror(ctx, src, mirror); err != nil {
			return RefList{}, &errdefs.SourceFetchError{
				Source: src.Name,
				Remote: src.Remote,
				Err:    err,
				Hint:   "check the remote URL and authentication",
			}
		}
	}

	refs, err := listRefs(ctx, mirror)
	if err != nil {
		return RefList{}, &errdefs.SourceFetchError{Source: src.Name, Remote: src.Remote, Err: err}
	}
	return refs, nil
}

func (f *Fetcher) updateMirror(ctx context.Context, src manifest.Source, mirror string) error {
	if _, err := os.Stat(mirror); os.IsNotExist(err) {
		if _, cloneErr := Git(ctx, "", "clone", "--mirror", src.Remote, mirror); cloneErr != nil {
			return fmt.Errorf("git clone --mirror: %w", cloneErr)
		}
		return nil
	}
	if _, err := Git(ctx, mirror, "remote", "update", "--prune"); err != nil {
		return fmt.Errorf("git remote update: %w", err)
	}
	return nil
}

// listRefs enumerates tags and branches of a mirror. Annotated tags are
// peeled to their target commit.
func listRefs(ctx context.Context, mirror string) (RefList, error) {
	out, err := Git(ctx, mirror, "for-each-ref",
		"--format=%(refname)%09%(objectname)%09%(*objectname)",
		"refs/tags", "refs/heads")
	if err != nil {
		return RefList{}, fmt.Errorf("listing refs: %w", err)
	}

	refs := RefList{
		Tags:     make(map[string]string),
		Branches: make(map[string]string),
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		name, commit := fields[0], fields[1]
		if len(fields) > 2 && fields[2] != "" {
			commit = fields[2] // peeled annotated tag
		}
		switch {
		case strings.HasPrefix(name, "refs/tags/"):
			refs.Tags[strings.TrimPrefix(name, "refs/tags/")] = commit
		case strings.HasPrefix(name, "refs/heads/"):
			refs.Branches[strings.TrimPrefix(name, "refs/heads/")] = commit
		}
	}

	head, err := Git(ctx, mirror, "rev-parse", "HEAD")
	if err == nil {
		refs.Head = strings.TrimSpace(head)
	}
	return refs, nil
}

// Git executes git with prompts disabled. dir may be empty for commands
// that do not operate on an existing repository.
func Git(ctx context.Context, dir string, args ...string) (string, error) {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(output)), err)
	}
	return string(output), nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// mirrorName derives a stable directory name from a remote URL: a readable
// basename plus a hash suffix to disambiguate remotes with equal basenames.
func mirrorName(remote string) string {
	base := strings.TrimSuffix(filepath.Base(remote), ".git")
	base = unsafeChars.ReplaceAllString(base, "-")
	sum := sha256.Sum256([]byte(remote))
	return base + "-" + hex.EncodeToString(sum[:])[:12]
}
