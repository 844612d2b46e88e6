package graph

import (
	"fmt"
	"sort"

	"github.com/bianoble/agentdep/internal/errdefs"
)

// DetectCycles runs a depth-first search with white/gray/black coloring
// and reports the first back-edge as a CycleError carrying the full cycle
// path. Run before any installation.
func DetectCycles(g *Graph) error {
	const (
		white = iota
		gray
		black
	)

	color := make(map[NodeID]int, g.Len())
	var stack []*Node

	var dfs func(n *Node) *errdefs.CycleError
	dfs = func(n *Node) *errdefs.CycleError {
		color[n.ID] = gray
		stack = append(stack, n)
		for _, e := range n.Edges {
			child := g.Get(e.To)
			if child == nil {
				continue
			}
			switch color[child.ID] {
			case white:
				if cyc := dfs(child); cyc != nil {
					return cyc
				}
			case gray:
				return cycleFrom(stack, child)
			}
		}
		stack = stack[:len(stack)-1]
		color[n.ID] = black
		return nil
	}

	for _, n := range g.Nodes() {
		if color[n.ID] == white {
			if cyc := dfs(n); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// cycleFrom slices the recursion stack at the back-edge target and closes
// the loop, so the error reads A → B → C → A.
func cycleFrom(stack []*Node, target *Node) *errdefs.CycleError {
	var path []string
	for i, n := range stack {
		if n.ID == target.ID {
			for _, m := range stack[i:] {
				path = append(path, m.DisplayName())
			}
			break
		}
	}
	path = append(path, target.DisplayName())
	return &errdefs.CycleError{Path: path}
}

// DestFunc computes a node's project-relative install destination. It is
// supplied by the caller so the graph stays free of tool-layout knowledge.
type DestFunc func(*Node) (string, error)

// CheckDestinations computes every installable node's destination and
// fails the run when two nodes land on the same path. Nodes whose
// destination cannot be computed (unknown tool) become Failed.
func CheckDestinations(g *Graph, dest DestFunc) (map[NodeID]string, error) {
	dests := make(map[NodeID]string)
	taken := make(map[string]*Node)
	for _, n := range g.Nodes() {
		if !n.Installable() {
			continue
		}
		d, err := dest(n)
		if err != nil {
			n.State = Failed
			n.Err = fmt.Errorf("%s: %w", n.DisplayName(), err)
			continue
		}
		if prev, ok := taken[d]; ok {
			return nil, &errdefs.DuplicatePathError{
				Destination: d,
				Nodes:       []string{prev.DisplayName(), n.DisplayName()},
			}
		}
		taken[d] = n
		dests[n.ID] = d
	}
	return dests, nil
}

// TopoSort returns the resolved nodes ordered so every node precedes all
// nodes that declare it as a dependency. Kahn's algorithm; ties break by
// node ID so the plan is deterministic.
func TopoSort(g *Graph) ([]*Node, error) {
	live := make(map[NodeID]*Node)
	for _, n := range g.Nodes() {
		if n.State == Resolved {
			live[n.ID] = n
		}
	}

	// pending counts a node's not-yet-emitted dependencies; dependents is
	// the reverse adjacency.
	pending := make(map[NodeID]int, len(live))
	dependents := make(map[NodeID][]NodeID, len(live))
	for id, n := range live {
		for _, e := range n.Edges {
			if _, ok := live[e.To]; !ok {
				continue
			}
			pending[id]++
			dependents[e.To] = append(dependents[e.To], id)
		}
	}

	var ready []NodeID
	for id := range live {
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}

	out := make([]*Node, 0, len(live))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		out = append(out, live[id])
		for _, dep := range dependents[id] {
			pending[dep]--
			if pending[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(out) != len(live) {
		return nil, fmt.Errorf("topological sort left %d nodes unordered — cycle not caught earlier", len(live)-len(out))
	}
	return out, nil
}
