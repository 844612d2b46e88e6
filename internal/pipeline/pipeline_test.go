package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/agentdep/internal/cachectx"
	"github.com/bianoble/agentdep/internal/errdefs"
	"github.com/bianoble/agentdep/internal/gittest"
	"github.com/bianoble/agentdep/internal/lock"
	"github.com/bianoble/agentdep/internal/logging"
	"github.com/bianoble/agentdep/internal/manifest"
)

var fixedNow = func() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

// newProjectRepo builds the standard fixture: a parent agent embedding a
// child snippet, two team agents for glob expansion, tagged v1.0.0, plus a
// later commit so main and the tag point at different commits.
func newProjectRepo(t *testing.T) *gittest.Repo {
	t.Helper()
	repo := gittest.Init(t)
	repo.WriteFile(t, "agents/parent.md", `---
dependencies:
  - type: snippet
    name: child
    path: snippets/child.md
    as: helper
    install: false
---
Guide: {{.helper}}
`)
	repo.WriteFile(t, "snippets/child.md", "child body")
	repo.WriteFile(t, "agents/team/one.md", "one\n")
	repo.WriteFile(t, "agents/team/two.md", "two\n")
	repo.Commit(t, "v1")
	repo.Tag(t, "v1.0.0")

	repo.WriteFile(t, "agents/parent.md", "no frontmatter on main\n")
	repo.Commit(t, "main moves on")
	return repo
}

type env struct {
	repo        *gittest.Repo
	projectRoot string
	cctx        *cachectx.Context
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cctx, err := cachectx.New(t.TempDir())
	require.NoError(t, err)
	return &env{
		repo:        newProjectRepo(t),
		projectRoot: t.TempDir(),
		cctx:        cctx,
	}
}

func (e *env) manifest(deps ...manifest.Dependency) *manifest.Manifest {
	return &manifest.Manifest{
		Version:      1,
		Sources:      []manifest.Source{{Name: "community", Remote: e.repo.Dir}},
		Dependencies: deps,
	}
}

func (e *env) pipeline(m *manifest.Manifest, opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = fixedNow
	}
	return New(m, e.projectRoot, e.cctx, opts, logging.MustNew(logging.LevelNone))
}

func (e *env) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.projectRoot, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func standardDeps() []manifest.Dependency {
	return []manifest.Dependency{
		{Type: "agent", Name: "parent", Source: "community", Path: "agents/parent.md", Version: "v1.0.0"},
		{Type: "agent", Name: "team", Source: "community", Path: "agents/team/*.md", Version: "v1.0.0"},
		{Type: "snippet", Name: "style", Local: "snippets/style.md"},
	}
}

func (e *env) writeLocal(t *testing.T) {
	t.Helper()
	dir := filepath.Join(e.projectRoot, "snippets")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "style.md"), []byte("local style\n"), 0o644))
}

func TestRunInstallsEverything(t *testing.T) {
	e := newEnv(t)
	e.writeLocal(t)
	lockPath := filepath.Join(e.projectRoot, "agentdep.lock")

	pipe := e.pipeline(e.manifest(standardDeps()...), Options{LockfilePath: lockPath})
	result, err := pipe.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Failed)

	// parent + embedded child + two team agents + local snippet.
	assert.Len(t, result.Installed, 5)

	assert.Equal(t, "Guide: child body\n", e.read(t, ".claude/agents/parent.md"))
	assert.Equal(t, "one\n", e.read(t, ".claude/agents/one.md"))
	assert.Equal(t, "two\n", e.read(t, ".claude/agents/two.md"))
	assert.Equal(t, "local style\n", e.read(t, ".claude/snippets/style.md"))

	// The embedded-only child leaves no file behind.
	assert.NoFileExists(t, filepath.Join(e.projectRoot, ".claude", "snippets", "child.md"))

	assert.FileExists(t, lockPath)
	// One fetch and one checkout for the whole run.
	assert.Equal(t, 1, pipe.Fetcher().FetchCount("community"))
	assert.Equal(t, int64(1), pipe.Worktrees().Creations())

	// Lockfile deps carry display names, not node identities.
	lf, err := lock.Load(lockPath)
	require.NoError(t, err)
	byName := make(map[string]lock.Entry, len(lf.Entries))
	for _, entry := range lf.Entries {
		byName[entry.Name] = entry
	}
	assert.Equal(t, []string{"child"}, byName["parent"].Deps)
}

func TestRunSecondRunPerformsNoFetch(t *testing.T) {
	e := newEnv(t)
	e.writeLocal(t)
	lockPath := filepath.Join(e.projectRoot, "agentdep.lock")

	first := e.pipeline(e.manifest(standardDeps()...), Options{LockfilePath: lockPath})
	result, err := first.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Failed)
	require.Equal(t, 1, first.Fetcher().FetchCount("community"))

	// Pinned constraints with a valid lockfile and cached worktrees never
	// touch the network again.
	second := e.pipeline(e.manifest(standardDeps()...), Options{LockfilePath: lockPath})
	result, err = second.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Failed)
	assert.Len(t, result.Installed, 5)
	assert.Equal(t, 0, second.Fetcher().FetchCount("community"))
	assert.Equal(t, int64(0), second.Worktrees().Creations())
}

func TestRunBranchConstraintAlwaysFetches(t *testing.T) {
	e := newEnv(t)
	lockPath := filepath.Join(e.projectRoot, "agentdep.lock")
	deps := []manifest.Dependency{
		{Type: "agent", Name: "one", Source: "community", Path: "agents/team/one.md", Version: "main"},
	}

	first := e.pipeline(e.manifest(deps...), Options{LockfilePath: lockPath})
	result, err := first.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Failed)

	// A branch is a moving target: the lockfile pin never satisfies it.
	second := e.pipeline(e.manifest(deps...), Options{LockfilePath: lockPath})
	result, err = second.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Failed)
	assert.Equal(t, 1, second.Fetcher().FetchCount("community"))
}

func TestRunLockfileIsDeterministic(t *testing.T) {
	e := newEnv(t)
	e.writeLocal(t)
	lockPath := filepath.Join(e.projectRoot, "agentdep.lock")

	run := func() []byte {
		pipe := e.pipeline(e.manifest(standardDeps()...), Options{LockfilePath: lockPath})
		result, err := pipe.Run(context.Background())
		require.NoError(t, err)
		require.Empty(t, result.Failed)
		data, err := os.ReadFile(lockPath)
		require.NoError(t, err)
		return data
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
}

func TestRunPartialFailureSkipsLockfile(t *testing.T) {
	e := newEnv(t)
	lockPath := filepath.Join(e.projectRoot, "agentdep.lock")

	pipe := e.pipeline(e.manifest(
		manifest.Dependency{Type: "agent", Name: "good", Source: "community", Path: "agents/team/one.md", Version: "v1.0.0"},
		manifest.Dependency{Type: "agent", Name: "bad", Source: "community", Path: "agents/team/two.md", Version: "v9.9.9"},
	), Options{LockfilePath: lockPath})

	result, err := pipe.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "bad", result.Failed[0].Node)
	assert.Equal(t, "version_resolution", result.Failed[0].ErrorKind)

	// The healthy subtree still installs, but no lockfile is written.
	assert.Len(t, result.Installed, 1)
	assert.FileExists(t, filepath.Join(e.projectRoot, ".claude", "agents", "one.md"))
	assert.NoFileExists(t, lockPath)
}

func TestRunConflictAbortsBeforeInstall(t *testing.T) {
	e := newEnv(t)

	pipe := e.pipeline(e.manifest(
		manifest.Dependency{Type: "agent", Name: "pinned", Source: "community", Path: "agents/team/one.md", Version: "v1.0.0"},
		manifest.Dependency{Type: "agent", Name: "tracking", Source: "community", Path: "agents/team/one.md", Version: "main"},
	), Options{})

	_, err := pipe.Run(context.Background())
	require.Error(t, err)
	var conflict *errdefs.ConflictError
	require.True(t, errors.As(err, &conflict))

	// Structural failures abort before anything touches the project.
	assert.NoDirExists(t, filepath.Join(e.projectRoot, ".claude"))
}

func TestRunConflictWinnerDropsLoserChildren(t *testing.T) {
	repo := gittest.Init(t)
	repo.WriteFile(t, "agents/parent.md", `---
dependencies:
  - type: snippet
    name: oldchild
    path: snippets/old.md
    as: helper
---
Guide: {{.helper}}
`)
	repo.WriteFile(t, "snippets/old.md", "old")
	repo.Commit(t, "v1")
	repo.Tag(t, "v1.0.0")

	repo.WriteFile(t, "agents/parent.md", `---
dependencies:
  - type: snippet
    name: newchild
    path: snippets/new.md
    as: helper
---
Guide: {{.helper}}
`)
	repo.WriteFile(t, "snippets/new.md", "new")
	repo.Commit(t, "v2")
	repo.Tag(t, "v2.0.0")

	cctx, err := cachectx.New(t.TempDir())
	require.NoError(t, err)
	e := &env{repo: repo, projectRoot: t.TempDir(), cctx: cctx}

	pipe := e.pipeline(e.manifest(
		manifest.Dependency{Type: "agent", Name: "stable", Source: "community", Path: "agents/parent.md", Version: "v1.0.0"},
		manifest.Dependency{Type: "agent", Name: "latest", Source: "community", Path: "agents/parent.md", Version: "v2.0.0"},
	), Options{})

	result, err := pipe.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Failed)

	// v2.0.0 wins; only its child may be installed or recorded.
	assert.Equal(t, "Guide: new\n", e.read(t, ".claude/agents/parent.md"))
	assert.Equal(t, "new", e.read(t, ".claude/snippets/new.md"))
	assert.NoFileExists(t, filepath.Join(e.projectRoot, ".claude", "snippets", "old.md"))

	require.Len(t, result.Installed, 2)
	for _, entry := range result.Installed {
		assert.NotEqual(t, "oldchild", entry.Name)
	}
}

func TestRunDuplicateDestinationAborts(t *testing.T) {
	e := newEnv(t)

	// The same file via a literal path and via a glob, pinned to different
	// names, collapses to one node — so use two sources for a true clash.
	other := newProjectRepo(t)
	m := e.manifest(
		manifest.Dependency{Type: "agent", Name: "a", Source: "community", Path: "agents/team/one.md", Version: "v1.0.0"},
		manifest.Dependency{Type: "agent", Name: "b", Source: "mirror", Path: "agents/team/one.md", Version: "v1.0.0"},
	)
	m.Sources = append(m.Sources, manifest.Source{Name: "mirror", Remote: other.Dir})

	pipe := e.pipeline(m, Options{})
	_, err := pipe.Run(context.Background())
	require.Error(t, err)
	var dup *errdefs.DuplicatePathError
	require.True(t, errors.As(err, &dup))
}

func TestRunNoLock(t *testing.T) {
	e := newEnv(t)
	lockPath := filepath.Join(e.projectRoot, "agentdep.lock")

	pipe := e.pipeline(e.manifest(
		manifest.Dependency{Type: "agent", Name: "one", Source: "community", Path: "agents/team/one.md", Version: "v1.0.0"},
	), Options{LockfilePath: lockPath, NoLock: true})

	result, err := pipe.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Failed)
	assert.NoFileExists(t, lockPath)
}

func TestRunCustomToolDefinition(t *testing.T) {
	e := newEnv(t)
	m := e.manifest(manifest.Dependency{
		Type: "agent", Name: "one", Source: "community",
		Path: "agents/team/one.md", Version: "v1.0.0", Tool: "mytool",
	})
	m.ToolDefinitions = []manifest.ToolDefinition{{Name: "mytool", Destination: ".mytool/"}}

	pipe := e.pipeline(m, Options{})
	result, err := pipe.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Failed)
	assert.Equal(t, "one\n", e.read(t, ".mytool/agents/one.md"))
}

func TestRunUnknownToolFailsNode(t *testing.T) {
	e := newEnv(t)
	pipe := e.pipeline(e.manifest(manifest.Dependency{
		Type: "agent", Name: "one", Source: "community",
		Path: "agents/team/one.md", Version: "v1.0.0", Tool: "vim",
	}), Options{})

	result, err := pipe.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.Contains(t, result.Failed[0].Message, "unknown tool 'vim'")
}
