// Package pipeline wires the resolution and install stages together:
// manifest → fetch → version resolution → graph discovery → structural
// checks → parallel install → lockfile.
package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/bianoble/agentdep/internal/cachectx"
	"github.com/bianoble/agentdep/internal/errdefs"
	"github.com/bianoble/agentdep/internal/gitrepo"
	"github.com/bianoble/agentdep/internal/graph"
	"github.com/bianoble/agentdep/internal/installer"
	"github.com/bianoble/agentdep/internal/lock"
	"github.com/bianoble/agentdep/internal/manifest"
	"github.com/bianoble/agentdep/internal/metadata"
	"github.com/bianoble/agentdep/internal/render"
	"github.com/bianoble/agentdep/internal/target"
	"github.com/bianoble/agentdep/internal/version"
	"github.com/bianoble/agentdep/internal/worktree"
)

// DefaultTool receives resources whose declaration names no tool.
const DefaultTool = "claude-code"

// Options configures a run.
type Options struct {
	// LockfilePath receives the lockfile after a fully successful run.
	LockfilePath string

	// NoLock disables lockfile writing.
	NoLock bool

	// MaxParallel bounds concurrent installs; <= 0 means GOMAXPROCS.
	MaxParallel int

	// IncludePrerelease lets unconstrained resolution pick pre-release tags.
	IncludePrerelease bool

	// Now stamps the lockfile; nil means time.Now.
	Now func() time.Time
}

// Failure is one failed node in the run summary.
type Failure struct {
	Node      string
	ErrorKind string
	Message   string
}

// Result is the structured run summary handed to the presentation layer.
type Result struct {
	Installed []lock.Entry
	Failed    []Failure
}

// Pipeline holds the collaborators for one project. Construct with New.
type Pipeline struct {
	manifest    *manifest.Manifest
	projectRoot string
	opts        Options
	log         *zap.Logger

	fetcher   *gitrepo.Fetcher
	versions  *version.Resolver
	worktrees *worktree.Cache
	meta      metadata.Parser
	toolMap   *target.ToolMap
	renderer  render.Renderer
}

// New assembles a pipeline over an explicit cache context.
func New(m *manifest.Manifest, projectRoot string, cctx *cachectx.Context, opts Options, log *zap.Logger) *Pipeline {
	fetcher := gitrepo.NewFetcher(cctx, log)
	return &Pipeline{
		manifest:    m,
		projectRoot: projectRoot,
		opts:        opts,
		log:         log,
		fetcher:     fetcher,
		versions:    version.NewResolver(fetcher, opts.IncludePrerelease, log),
		worktrees:   worktree.NewCache(cctx, log),
		meta:        metadata.FrontmatterParser{},
		toolMap:     target.NewToolMap(m.ToolDefinitions),
		renderer:    render.TemplateRenderer{},
	}
}

// Fetcher exposes the run's fetcher for callers asserting fetch counts.
func (p *Pipeline) Fetcher() *gitrepo.Fetcher { return p.fetcher }

// Worktrees exposes the run's worktree cache.
func (p *Pipeline) Worktrees() *worktree.Cache { return p.worktrees }

// Run executes the full pipeline. Structural errors (conflicts, cycles,
// duplicate destinations) abort before any file is written and are
// returned as the error; per-node failures are collected in the Result.
// The lockfile is written only when every node succeeded.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	p.seedFromLockfile()

	builder := &graph.Builder{
		Fetcher:     p.fetcher,
		Versions:    p.versions,
		Worktrees:   p.worktrees,
		Meta:        p.meta,
		ProjectRoot: p.projectRoot,
		Log:         p.log,
	}

	g, err := builder.Build(ctx, p.manifest)
	if err != nil {
		return nil, err
	}

	// Structural checks run before anything touches the project.
	if err := graph.DetectCycles(g); err != nil {
		return nil, err
	}
	if err := graph.ResolveConflicts(g); err != nil {
		return nil, err
	}
	dests, err := graph.CheckDestinations(g, p.destFor)
	if err != nil {
		return nil, err
	}
	plan, err := graph.TopoSort(g)
	if err != nil {
		return nil, err
	}

	// Discovery-time failures surface in the summary and poison their
	// dependents, but unrelated nodes still install.
	failed := make(map[graph.NodeID]error)
	result := &Result{}
	for _, n := range g.Nodes() {
		if n.State == graph.Failed {
			failed[n.ID] = n.Err
			result.Failed = append(result.Failed, Failure{
				Node:      n.DisplayName(),
				ErrorKind: errdefs.Kind(n.Err),
				Message:   n.Err.Error(),
			})
		}
	}

	ins := &installer.Installer{
		ProjectRoot: p.projectRoot,
		Renderer:    p.renderer,
		MaxParallel: p.opts.MaxParallel,
		Log:         p.log,
		Now:         p.opts.Now,
	}
	outcome, err := ins.Install(ctx, plan, dests, failed)
	if err != nil {
		return nil, err
	}

	result.Installed = outcome.Installed
	for _, f := range outcome.Failed {
		result.Failed = append(result.Failed, Failure{
			Node:      f.Node,
			ErrorKind: errdefs.Kind(f.Err),
			Message:   f.Err.Error(),
		})
	}

	if len(result.Failed) == 0 && !p.opts.NoLock && p.opts.LockfilePath != "" {
		now := p.opts.Now
		if now == nil {
			now = time.Now
		}
		lf := &lock.Lockfile{
			Version:     1,
			GeneratedAt: now().UTC(),
			Entries:     result.Installed,
		}
		if err := lock.Save(p.opts.LockfilePath, lf); err != nil {
			return nil, err
		}
		p.log.Info("lockfile written",
			zap.String("path", p.opts.LockfilePath),
			zap.Int("entries", len(lf.Entries)))
	}

	return result, nil
}

// seedFromLockfile pre-resolves (source, constraint) pairs from the
// previous run so unchanged sources need no fetch. A pair is seeded only
// when a lockfile entry matches the declaration, the pinned label still
// satisfies the constraint, and the pinned commit's worktree is already
// materialized; branches, missing entries, and missing worktrees resolve
// normally.
func (p *Pipeline) seedFromLockfile() {
	if p.opts.LockfilePath == "" {
		return
	}
	lf, err := lock.Load(p.opts.LockfilePath)
	if err != nil {
		return
	}

	sources := make(map[string]manifest.Source, len(p.manifest.Sources))
	for _, src := range p.manifest.Sources {
		sources[src.Name] = src
	}
	bySource := make(map[string][]lock.Entry)
	for _, e := range lf.Entries {
		if e.Source != "" && e.Commit != "" {
			bySource[e.Source] = append(bySource[e.Source], e)
		}
	}

	for _, dep := range p.manifest.Dependencies {
		if dep.IsLocal() {
			continue
		}
		src, ok := sources[dep.Source]
		if !ok {
			continue
		}
		c, err := version.Parse(dep.Version)
		if err != nil {
			continue
		}
		entry, ok := matchLockEntry(bySource[dep.Source], dep.Path)
		if !ok || !c.AcceptsPin(entry.Version, entry.Commit) {
			continue
		}
		if _, statErr := os.Stat(p.worktrees.Path(entry.Commit)); statErr != nil {
			continue
		}
		p.versions.Seed(src, c, version.Resolution{Commit: entry.Commit, Label: entry.Version})
		p.log.Debug("seeded resolution from lockfile",
			zap.String("source", dep.Source),
			zap.String("constraint", dep.Version),
			zap.String("commit", entry.Commit))
	}
}

// matchLockEntry finds the lockfile entry a declaration resolved to last
// run. Literal paths match exactly; glob declarations match any expanded
// entry, but only when all expansions pin the same commit.
func matchLockEntry(entries []lock.Entry, pattern string) (lock.Entry, bool) {
	var found lock.Entry
	ok := false
	for _, e := range entries {
		matched, err := doublestar.Match(pattern, e.Path)
		if err != nil || !matched {
			continue
		}
		if ok && (found.Commit != e.Commit || found.Version != e.Version) {
			return lock.Entry{}, false
		}
		found, ok = e, true
	}
	return found, ok
}

// destFor routes a node to its project-relative destination.
func (p *Pipeline) destFor(n *graph.Node) (string, error) {
	tool := n.Dep.Tool
	if tool == "" {
		tool = DefaultTool
	}
	return p.toolMap.ResolveInstallPath(n.Dep.Type, tool, n.DestRel)
}
