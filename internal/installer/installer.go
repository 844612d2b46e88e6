// Package installer executes the topologically ordered install plan with
// bounded parallelism. Only content-embedding edges impose ordering: a
// parent renders after its embedded children, while independent subtrees
// install fully concurrently. Destinations publish through atomic renames,
// and one node's failure never cancels unrelated in-flight nodes.
package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bianoble/agentdep/internal/errdefs"
	"github.com/bianoble/agentdep/internal/graph"
	"github.com/bianoble/agentdep/internal/lock"
	"github.com/bianoble/agentdep/internal/render"
	"github.com/bianoble/agentdep/internal/sandbox"
)

// DefaultMaxRenderSize caps rendered output at 8 MiB.
const DefaultMaxRenderSize = 8 << 20

// Failure records one node's install error.
type Failure struct {
	Node string
	Err  error
}

// Outcome summarizes an install batch. Failed is non-empty when any node
// failed; the caller decides whether to persist the lockfile.
type Outcome struct {
	Installed []lock.Entry
	Failed    []Failure
}

// Installer writes resolved nodes into the project.
type Installer struct {
	ProjectRoot   string
	Renderer      render.Renderer
	MaxParallel   int   // <= 0 means GOMAXPROCS
	MaxRenderSize int64 // <= 0 means DefaultMaxRenderSize
	Log           *zap.Logger

	// Now stamps lockfile entries; tests inject a fixed clock.
	Now func() time.Time
}

// nodeResult carries a finished node's content to parents waiting on an
// embedding edge.
type nodeResult struct {
	done    chan struct{}
	content []byte
	err     error
}

// Install executes the plan. plan must be topologically sorted; failed
// holds discovery-time failures so dependents of a failed node fail fast
// instead of installing with missing content.
func (ins *Installer) Install(ctx context.Context, plan []*graph.Node, dests map[graph.NodeID]string, failed map[graph.NodeID]error) (*Outcome, error) {
	maxParallel := ins.MaxParallel
	if maxParallel <= 0 {
		maxParallel = runtime.GOMAXPROCS(0)
	}
	maxRender := ins.MaxRenderSize
	if maxRender <= 0 {
		maxRender = DefaultMaxRenderSize
	}
	now := ins.Now
	if now == nil {
		now = time.Now
	}

	results := make(map[graph.NodeID]*nodeResult, len(plan))
	names := make(map[graph.NodeID]string, len(plan))
	for _, n := range plan {
		results[n.ID] = &nodeResult{done: make(chan struct{})}
		names[n.ID] = n.DisplayName()
	}

	var (
		mu      sync.Mutex
		outcome Outcome
	)
	fail := func(n *graph.Node, err error) {
		mu.Lock()
		outcome.Failed = append(outcome.Failed, Failure{Node: n.DisplayName(), Err: err})
		mu.Unlock()
		ins.Log.Warn("install failed", zap.String("node", n.DisplayName()), zap.Error(err))
	}

	sem := semaphore.NewWeighted(int64(maxParallel))
	g, gctx := errgroup.WithContext(ctx)

	for _, n := range plan {
		res := results[n.ID]
		g.Go(func() error {
			defer close(res.done)

			// Wait for embedded children; structural edges impose no
			// install ordering.
			children, err := ins.awaitChildren(gctx, n, results, failed)
			if err != nil {
				res.err = err
				fail(n, err)
				return nil
			}

			if err := sem.Acquire(gctx, 1); err != nil {
				res.err = err
				fail(n, err)
				return nil
			}
			defer sem.Release(1)

			content, err := ins.installOne(n, children, dests, maxRender)
			if err != nil {
				res.err = err
				fail(n, err)
				return nil
			}
			res.content = content

			mu.Lock()
			outcome.Installed = append(outcome.Installed, ins.lockEntry(n, now(), names))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(outcome.Failed, func(i, j int) bool { return outcome.Failed[i].Node < outcome.Failed[j].Node })
	return &outcome, nil
}

// awaitChildren blocks until every embedded child has finished and returns
// their content keyed by binding name.
func (ins *Installer) awaitChildren(ctx context.Context, n *graph.Node, results map[graph.NodeID]*nodeResult, failed map[graph.NodeID]error) (map[string]string, error) {
	var children map[string]string
	for _, e := range n.Edges {
		if !e.Embed {
			continue
		}
		if depErr, ok := failed[e.To]; ok {
			return nil, fmt.Errorf("embedded dependency failed: %w", depErr)
		}
		childRes, ok := results[e.To]
		if !ok {
			return nil, fmt.Errorf("embedded dependency %s is not in the install plan", e.To)
		}
		select {
		case <-childRes.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if childRes.err != nil {
			return nil, fmt.Errorf("embedded dependency %s failed: %w", e.To, childRes.err)
		}
		if children == nil {
			children = make(map[string]string)
		}
		children[e.Binding] = string(childRes.content)
	}
	return children, nil
}

// installOne produces a node's final content and, for installable nodes,
// publishes it atomically at its destination.
func (ins *Installer) installOne(n *graph.Node, children map[string]string, dests map[graph.NodeID]string, maxRender int64) ([]byte, error) {
	name := n.DisplayName()

	// Re-read from the worktree (or local path) and verify against the
	// checksum recorded at discovery.
	raw, err := os.ReadFile(n.FilePath)
	if err != nil {
		return nil, &errdefs.InstallIOError{Node: name, Op: "reading content", Err: err}
	}
	sum := sha256.Sum256(raw)
	if actual := hex.EncodeToString(sum[:]); actual != n.Checksum {
		return nil, &errdefs.ChecksumMismatchError{Node: name, Expected: n.Checksum, Actual: actual}
	}

	// Nodes with bindings render their body against the children's
	// resolved content; everything else installs verbatim.
	content := raw
	if len(n.Bindings) > 0 {
		rendered, err := ins.Renderer.Render(n.Body, children)
		if err != nil {
			return nil, &errdefs.InstallIOError{Node: name, Op: "rendering", Err: err}
		}
		if int64(len(rendered)) > maxRender {
			return nil, &errdefs.InstallIOError{
				Node: name,
				Op:   "rendering",
				Err:  fmt.Errorf("rendered output is %d bytes, limit %d", len(rendered), maxRender),
			}
		}
		content = rendered
	}

	if !n.Installable() {
		return content, nil
	}

	dest, ok := dests[n.ID]
	if !ok {
		return nil, &errdefs.InstallIOError{Node: name, Op: "routing", Err: fmt.Errorf("no destination computed")}
	}
	if _, err := sandbox.ValidatePath(ins.ProjectRoot, dest); err != nil {
		return nil, &errdefs.PathSecurityError{Node: name, Path: dest, Err: err}
	}
	if err := sandbox.SafeWrite(ins.ProjectRoot, dest, content, 0644); err != nil {
		return nil, &errdefs.InstallIOError{Node: name, Op: "writing " + dest, Err: err}
	}

	ins.Log.Debug("installed", zap.String("node", name), zap.String("dest", dest))
	return content, nil
}

// lockEntry builds the node's lockfile record. Deps lists the display
// names of its dependencies, deduplicated when several edges point at the
// same node.
func (ins *Installer) lockEntry(n *graph.Node, at time.Time, names map[graph.NodeID]string) lock.Entry {
	entry := lock.Entry{
		Name:        n.DisplayName(),
		Type:        n.Dep.Type,
		Source:      n.Source.Name,
		Path:        n.Path,
		Version:     n.Version,
		Commit:      n.Commit,
		SHA256:      n.Checksum,
		InstalledAt: at.UTC(),
	}
	if n.Local != "" {
		entry.Path = n.Local
	}
	var deps []string
	seen := make(map[string]bool, len(n.Edges))
	for _, e := range n.Edges {
		name, ok := names[e.To]
		if !ok {
			name = string(e.To)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		deps = append(deps, name)
	}
	sort.Strings(deps)
	entry.Deps = deps
	return entry
}
