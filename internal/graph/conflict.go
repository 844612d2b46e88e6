package graph

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/bianoble/agentdep/internal/errdefs"
	"github.com/bianoble/agentdep/internal/version"
)

// identity groups nodes that are the same resource requested at possibly
// different versions.
type identity struct {
	source string
	path   string
}

// ResolveConflicts enforces one chosen version per (source, path) identity.
//
// Rules: a single concretely pinned version (tag or commit) wins over
// unconstrained requesters; among multiple concrete versions the highest
// semver wins, but only if it satisfies every active range constraint;
// branches carry no ordering, so a branch conflicting with anything other
// than unconstrained requesters is fatal.
//
// Losing nodes are merged into the winner: edges are re-pointed and the
// losers removed.
func ResolveConflicts(g *Graph) error {
	groups := make(map[identity][]*Node)
	var order []identity
	for _, n := range g.Nodes() {
		if n.Local != "" || n.State == Failed {
			continue
		}
		key := identity{source: n.Source.Name, path: n.Path}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], n)
	}

	for _, key := range order {
		nodes := groups[key]
		if len(nodes) < 2 {
			continue
		}
		winner, err := pickWinner(key, nodes)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			if n != winner {
				merge(g, winner, n)
			}
		}
	}
	pruneOrphans(g)
	return nil
}

// nodeConstraints classifies every requester constraint attached to a node.
type nodeConstraints struct {
	node     *Node
	ver      *semver.Version // parsed from the resolved label, nil if not semver
	concrete bool
	branch   bool
	ranges   []version.Constraint
}

func classify(n *Node) nodeConstraints {
	nc := nodeConstraints{node: n}
	if v, err := semver.StrictNewVersion(strings.TrimPrefix(n.Version, "v")); err == nil {
		nc.ver = v
	}
	for _, r := range n.Requesters {
		c, err := version.Parse(r.Constraint)
		if err != nil {
			continue
		}
		switch c.Kind {
		case version.KindTag, version.KindCommit:
			nc.concrete = true
		case version.KindBranch:
			nc.branch = true
		case version.KindRange:
			nc.ranges = append(nc.ranges, c)
		}
	}
	return nc
}

func pickWinner(key identity, nodes []*Node) (*Node, error) {
	classified := make([]nodeConstraints, len(nodes))
	var (
		allRanges   []version.Constraint
		concrete    []nodeConstraints
		branches    []nodeConstraints
		constrained int
	)
	for i, n := range nodes {
		nc := classify(n)
		classified[i] = nc
		allRanges = append(allRanges, nc.ranges...)
		if nc.concrete {
			concrete = append(concrete, nc)
		}
		if nc.branch {
			branches = append(branches, nc)
		}
		if nc.concrete || nc.branch || len(nc.ranges) > 0 {
			constrained++
		}
	}

	conflict := func() error {
		var reqs []errdefs.Requester
		for _, n := range nodes {
			reqs = append(reqs, n.Requesters...)
		}
		return &errdefs.ConflictError{Source: key.source, Path: key.path, Requesters: reqs}
	}

	// Branches have no semver ordering: a branch only wins when every
	// other requester is unconstrained.
	if len(branches) > 0 {
		if constrained > 1 {
			return nil, conflict()
		}
		return branches[0].node, nil
	}

	var candidates []nodeConstraints
	switch {
	case len(concrete) > 0:
		candidates = concrete
	default:
		// Ranges (and unconstrained) only: ranked by their resolved tags.
		for _, nc := range classified {
			if len(nc.ranges) > 0 {
				candidates = append(candidates, nc)
			}
		}
	}
	if len(candidates) == 0 {
		// Distinct commits with every requester unconstrained cannot
		// happen (one constraint, one resolution); treat defensibly.
		return nil, conflict()
	}

	// Rank by version. A candidate that cannot be ordered (a bare commit
	// pin) conflicts with any other distinct candidate.
	for _, nc := range candidates {
		if nc.ver == nil && len(candidates) > 1 {
			return nil, conflict()
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ver == nil || candidates[j].ver == nil {
			return candidates[j].ver == nil
		}
		return candidates[i].ver.GreaterThan(candidates[j].ver)
	})
	winner := candidates[0]

	// The winner must satisfy every active range constraint.
	for _, rng := range allRanges {
		if winner.ver == nil || !rng.Matches(winner.ver) {
			return nil, conflict()
		}
	}
	return winner.node, nil
}

// merge re-points every edge aimed at the loser to the winner and removes
// the loser from the graph.
func merge(g *Graph, winner, loser *Node) {
	winner.Requesters = append(winner.Requesters, loser.Requesters...)
	winner.Seed = winner.Seed || loser.Seed
	for _, n := range g.Nodes() {
		for i, e := range n.Edges {
			if e.To == loser.ID {
				n.Edges[i].To = winner.ID
			}
		}
		n.Edges = dedupeEdges(n.Edges)
	}
	g.Remove(loser.ID)
}

// pruneOrphans removes nodes no longer reachable from any manifest seed.
// Merging a losing version away strands the children only it declared;
// leaving them in the graph would install resources nobody asked for.
func pruneOrphans(g *Graph) {
	reachable := make(map[NodeID]bool, g.Len())
	var stack []NodeID
	for _, n := range g.Nodes() {
		if n.Seed {
			reachable[n.ID] = true
			stack = append(stack, n.ID)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.Get(id).Edges {
			if !reachable[e.To] && g.Get(e.To) != nil {
				reachable[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	for _, n := range g.Nodes() {
		if !reachable[n.ID] {
			g.Remove(n.ID)
		}
	}
}

func dedupeEdges(edges []Edge) []Edge {
	seen := make(map[Edge]bool, len(edges))
	out := edges[:0]
	for _, e := range edges {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
