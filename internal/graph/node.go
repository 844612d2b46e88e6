// Package graph builds the dependency graph: iterative discovery of
// transitive dependencies, cycle detection, version conflict resolution,
// and the topologically ordered install plan.
package graph

import (
	"fmt"
	"path"

	"github.com/bianoble/agentdep/internal/errdefs"
	"github.com/bianoble/agentdep/internal/manifest"
)

// State tracks a node through resolution. Resolved and Failed are terminal.
type State int

const (
	Unresolved State = iota
	Resolving
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// NodeID is the graph identity: (source, resolved path, commit) for remote
// dependencies, the cleaned path for local ones.
type NodeID string

// RemoteID builds the identity of a remote node.
func RemoteID(source, relPath, commit string) NodeID {
	return NodeID(source + ":" + relPath + "@" + commit)
}

// LocalID builds the identity of a local node.
func LocalID(localPath string) NodeID {
	return NodeID("local:" + path.Clean(localPath))
}

// Edge points from a dependent node to one of its dependencies.
type Edge struct {
	To NodeID

	// Embed marks a content-embedding edge: the parent cannot render
	// until the child's content is resolved.
	Embed bool

	// Binding is the template name the child's content is exposed under.
	// Set only on embed edges.
	Binding string
}

// Node is one resource in the dependency graph.
type Node struct {
	ID  NodeID
	Dep manifest.Dependency // effective declaration after inheritance

	// Remote identity. Zero-valued for local nodes.
	Source  manifest.Source
	Path    string // repository-relative file path (post glob expansion)
	Commit  string
	Version string // resolved label: tag, branch name, or short sha

	// Local identity.
	Local string // project-relative path, "" for remote nodes

	// DestRel is the path component preserved for destination computation:
	// for glob-expanded nodes, the matched path relative to the pattern's
	// static prefix; otherwise the file's base name.
	DestRel string

	// Content resolved during discovery.
	Raw      []byte   // full file bytes
	Body     []byte   // frontmatter stripped
	Bindings []string // binding names the body may reference
	Checksum string   // sha256 of Raw

	// FilePath is the absolute path the content was read from (inside a
	// worktree or the project root).
	FilePath string

	// Seed marks nodes requested directly by the manifest. Everything a
	// run installs must be reachable from a seed.
	Seed bool

	State State
	Err   error
	Edges []Edge

	// Requesters records every party that asked for this (source, path)
	// identity, for conflict reporting.
	Requesters []errdefs.Requester
}

// DisplayName returns the node's name for reports and lockfile entries.
func (n *Node) DisplayName() string {
	if n.Dep.Name != "" {
		return n.Dep.Name
	}
	if n.Local != "" {
		return n.Local
	}
	return fmt.Sprintf("%s:%s", n.Source.Name, n.Path)
}

// Installable reports whether the node should be written to the project.
func (n *Node) Installable() bool {
	return n.State == Resolved && n.Dep.ShouldInstall()
}

// Graph holds the node set. Nodes are kept in insertion order so traversal
// and reports are deterministic.
type Graph struct {
	nodes map[NodeID]*Node
	order []NodeID
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// Get returns the node with the given identity, or nil.
func (g *Graph) Get(id NodeID) *Node { return g.nodes[id] }

// Add inserts a node. Adding an existing identity is a programming error.
func (g *Graph) Add(n *Node) {
	if _, ok := g.nodes[n.ID]; ok {
		panic(fmt.Sprintf("graph: duplicate node %s", n.ID))
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
}

// Remove deletes a node and drops edges pointing at it from the order.
func (g *Graph) Remove(id NodeID) {
	delete(g.nodes, id)
	for i, oid := range g.order {
		if oid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Len returns the node count.
func (g *Graph) Len() int { return len(g.nodes) }
