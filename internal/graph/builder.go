package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/bianoble/agentdep/internal/errdefs"
	"github.com/bianoble/agentdep/internal/gitrepo"
	"github.com/bianoble/agentdep/internal/manifest"
	"github.com/bianoble/agentdep/internal/metadata"
	"github.com/bianoble/agentdep/internal/version"
	"github.com/bianoble/agentdep/internal/worktree"
)

// DefaultMaxDepth bounds the discovery fixpoint. Reaching it is reported
// as a likely cycle.
const DefaultMaxDepth = 100

// Builder discovers the transitive dependency graph. Version resolution
// and worktree checkout happen in parallel inside the collaborators; the
// graph bookkeeping itself is sequential.
type Builder struct {
	Fetcher     *gitrepo.Fetcher
	Versions    *version.Resolver
	Worktrees   *worktree.Cache
	Meta        metadata.Parser
	ProjectRoot string
	MaxDepth    int
	Log         *zap.Logger
}

// request is one frontier entry: a declaration waiting to become nodes.
type request struct {
	dep       manifest.Dependency
	parent    *Node  // nil for manifest seeds
	requester string // for conflict reports
}

// Build runs the discovery fixpoint: seed with manifest declarations,
// resolve the frontier's versions in one batch, materialize worktrees far
// enough to read each resource, parse embedded declarations, and repeat
// until no new nodes appear.
//
// Failed resolutions become Failed nodes; they poison their dependents at
// install time but do not stop discovery of unrelated subtrees.
func (b *Builder) Build(ctx context.Context, m *manifest.Manifest) (*Graph, error) {
	maxDepth := b.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	sources := make(map[string]manifest.Source, len(m.Sources))
	for _, src := range m.Sources {
		sources[src.Name] = src
	}

	g := NewGraph()

	frontier := make([]request, 0, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		frontier = append(frontier, request{dep: dep, requester: "manifest"})
	}

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxDepth {
			return nil, fmt.Errorf("dependency discovery exceeded depth %d — likely a declaration cycle", maxDepth)
		}

		// Collection phase: batch-resolve the frontier's remote versions.
		constraints := make([]version.Constraint, len(frontier))
		var vreqs []version.Request
		for i, req := range frontier {
			if req.dep.IsLocal() {
				continue
			}
			src, ok := sources[req.dep.Source]
			if !ok {
				continue // reported per-request below
			}
			c, err := version.Parse(req.dep.Version)
			if err != nil {
				continue
			}
			constraints[i] = c
			vreqs = append(vreqs, version.Request{Source: src, Constraint: c})
		}
		failures, err := b.Versions.ResolveBatch(ctx, vreqs)
		if err != nil {
			return nil, err
		}

		var next []request
		for i, req := range frontier {
			children, reqErr := b.process(ctx, g, sources, req, constraints[i], failures)
			if reqErr != nil {
				return nil, reqErr
			}
			next = append(next, children...)
		}
		frontier = next
	}

	return g, nil
}

// process turns one frontier request into graph nodes and returns the
// embedded declarations discovered inside them.
func (b *Builder) process(ctx context.Context, g *Graph, sources map[string]manifest.Source, req request, c version.Constraint, failures map[version.Key]error) ([]request, error) {
	if req.dep.IsLocal() {
		return b.processLocal(g, req)
	}

	dep := req.dep
	src, ok := sources[dep.Source]
	if !ok {
		b.addFailed(g, req, fmt.Errorf("undefined source '%s'", dep.Source))
		return nil, nil
	}

	if _, perr := version.Parse(dep.Version); perr != nil {
		b.addFailed(g, req, perr)
		return nil, nil
	}

	if ferr, failed := failures[version.Key{Source: src.Name, Constraint: c.Raw}]; failed {
		b.addFailed(g, req, ferr)
		return nil, nil
	}
	res, ok := b.Versions.Lookup(src, c)
	if !ok {
		b.addFailed(g, req, fmt.Errorf("version '%s' was not resolved", c.Raw))
		return nil, nil
	}

	wt, err := b.Worktrees.Acquire(ctx, b.Fetcher.MirrorPath(src), res.Commit)
	if err != nil {
		b.addFailed(g, req, err)
		return nil, nil
	}

	matches, prefix, isGlob, err := expandPattern(wt, dep.Path)
	if err != nil {
		b.addFailed(g, req, err)
		return nil, nil
	}

	requester := errdefs.Requester{Name: req.requester, Constraint: dep.Version}

	var next []request
	for _, relPath := range matches {
		id := RemoteID(src.Name, relPath, res.Commit)
		if existing := g.Get(id); existing != nil {
			existing.Requesters = append(existing.Requesters, requester)
			if req.parent == nil {
				existing.Seed = true
			}
			addEdge(req.parent, id, dep)
			continue
		}

		nodeDep := dep
		nodeDep.Path = relPath
		if isGlob {
			// Expanded nodes take path-derived names so lockfile entries
			// stay unique.
			nodeDep.Name = ""
		}

		n := &Node{
			ID:         id,
			Dep:        nodeDep,
			Source:     src,
			Path:       relPath,
			Commit:     res.Commit,
			Version:    res.Label,
			DestRel:    destRel(relPath, prefix),
			Seed:       req.parent == nil,
			State:      Resolving,
			Requesters: []errdefs.Requester{requester},
		}
		g.Add(n)
		addEdge(req.parent, id, dep)

		children := b.populate(n, filepath.Join(wt, filepath.FromSlash(relPath)))
		next = append(next, children...)
	}
	return next, nil
}

// processLocal handles a local-path dependency.
func (b *Builder) processLocal(g *Graph, req request) ([]request, error) {
	dep := req.dep
	id := LocalID(dep.Local)
	requester := errdefs.Requester{Name: req.requester, Constraint: ""}

	if existing := g.Get(id); existing != nil {
		existing.Requesters = append(existing.Requesters, requester)
		if req.parent == nil {
			existing.Seed = true
		}
		addEdge(req.parent, id, dep)
		return nil, nil
	}

	n := &Node{
		ID:         id,
		Dep:        dep,
		Local:      dep.Local,
		DestRel:    path.Base(dep.Local),
		Seed:       req.parent == nil,
		State:      Resolving,
		Requesters: []errdefs.Requester{requester},
	}
	g.Add(n)
	addEdge(req.parent, id, dep)

	children := b.populate(n, filepath.Join(b.ProjectRoot, filepath.FromSlash(dep.Local)))
	return children, nil
}

// populate reads a node's content and metadata, marks it Resolved or
// Failed, and returns the embedded declarations as new frontier requests.
func (b *Builder) populate(n *Node, filePath string) []request {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		n.State = Failed
		n.Err = &errdefs.InstallIOError{Node: n.DisplayName(), Op: "reading resource", Err: err}
		return nil
	}

	parsed, err := b.Meta.Parse(raw)
	if err != nil {
		n.State = Failed
		n.Err = fmt.Errorf("%s: %w", n.DisplayName(), err)
		return nil
	}

	sum := sha256.Sum256(raw)
	n.Raw = raw
	n.Body = parsed.Body
	n.Bindings = parsed.Bindings
	n.Checksum = hex.EncodeToString(sum[:])
	n.FilePath = filePath
	n.State = Resolved

	b.Log.Debug("resolved node",
		zap.String("node", string(n.ID)),
		zap.Int("embedded_deps", len(parsed.Dependencies)))

	var next []request
	for _, child := range parsed.Dependencies {
		// Transitive declarations inherit the parent's source and, when
		// absent, the parent's version.
		if child.Source == "" && !child.IsLocal() {
			child.Source = n.Dep.Source
		}
		if child.Version == "" && !child.IsLocal() && child.Source == n.Dep.Source {
			child.Version = n.Dep.Version
		}
		next = append(next, request{dep: child, parent: n, requester: n.DisplayName()})
	}
	return next
}

// addFailed records a failed request as a terminal node so the error stays
// attributable. Repeated failures of the same identity merge.
func (b *Builder) addFailed(g *Graph, req request, err error) {
	id := RemoteID(req.dep.Source, req.dep.Path, "unresolved")
	requester := errdefs.Requester{Name: req.requester, Constraint: req.dep.Version}
	if existing := g.Get(id); existing != nil {
		existing.Requesters = append(existing.Requesters, requester)
		if req.parent == nil {
			existing.Seed = true
		}
		addEdge(req.parent, id, req.dep)
		return
	}
	n := &Node{
		ID:         id,
		Dep:        req.dep,
		Path:       req.dep.Path,
		Seed:       req.parent == nil,
		State:      Failed,
		Err:        err,
		Requesters: []errdefs.Requester{requester},
	}
	g.Add(n)
	addEdge(req.parent, id, req.dep)
	b.Log.Warn("dependency failed to resolve",
		zap.String("node", string(id)),
		zap.Error(err))
}

// addEdge links a parent to a child it declared. Manifest seeds have no
// parent. Duplicate edges collapse.
func addEdge(parent *Node, to NodeID, childDep manifest.Dependency) {
	if parent == nil {
		return
	}
	for _, e := range parent.Edges {
		if e.To == to && e.Binding == childDep.As {
			return
		}
	}
	parent.Edges = append(parent.Edges, Edge{
		To:      to,
		Embed:   childDep.As != "",
		Binding: childDep.As,
	})
}

var globChars = "*?[{"

// expandPattern lists the worktree files matching a literal path or glob
// pattern. Returns the matches (sorted, slash-separated) and the pattern's
// static directory prefix used to preserve relative structure.
func expandPattern(dir, pattern string) (matches []string, prefix string, isGlob bool, err error) {
	pattern = path.Clean(strings.TrimPrefix(pattern, "./"))

	if !strings.ContainsAny(pattern, globChars) {
		if _, statErr := os.Stat(filepath.Join(dir, filepath.FromSlash(pattern))); statErr != nil {
			return nil, "", false, fmt.Errorf("path '%s' not found in source: %w", pattern, statErr)
		}
		return []string{pattern}, path.Dir(pattern), false, nil
	}

	matches, err = doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, "", false, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, "", false, fmt.Errorf("pattern '%s' matched no files in source", pattern)
	}
	sort.Strings(matches)
	return matches, staticPrefix(pattern), true, nil
}

// staticPrefix returns the leading pattern segments with no glob
// metacharacters.
func staticPrefix(pattern string) string {
	segments := strings.Split(pattern, "/")
	var static []string
	for _, seg := range segments {
		if strings.ContainsAny(seg, globChars) {
			break
		}
		static = append(static, seg)
	}
	return strings.Join(static, "/")
}

// destRel computes the destination-relative path for a matched file,
// preserving directory structure under the pattern's static prefix.
func destRel(relPath, prefix string) string {
	if prefix != "" && strings.HasPrefix(relPath, prefix+"/") {
		return strings.TrimPrefix(relPath, prefix+"/")
	}
	if prefix == "" {
		return relPath
	}
	return path.Base(relPath)
}
