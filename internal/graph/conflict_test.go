package graph

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/agentdep/internal/errdefs"
	"github.com/bianoble/agentdep/internal/manifest"
)

func remoteNode(src, p, commit, label string, reqs ...errdefs.Requester) *Node {
	return &Node{
		ID:         RemoteID(src, p, commit),
		Dep:        manifest.Dependency{Type: "agent", Source: src, Path: p},
		Source:     manifest.Source{Name: src},
		Path:       p,
		Commit:     commit,
		Version:    label,
		Seed:       true,
		State:      Resolved,
		Requesters: reqs,
	}
}

func TestConflictHighestConcreteWins(t *testing.T) {
	g := NewGraph()
	v1 := remoteNode("community", "agents/a.md", "aaa", "v1.0.0",
		errdefs.Requester{Name: "one", Constraint: "v1.0.0"})
	v2 := remoteNode("community", "agents/a.md", "bbb", "v2.0.0",
		errdefs.Requester{Name: "two", Constraint: "v2.0.0"})
	g.Add(v1)
	g.Add(v2)

	require.NoError(t, ResolveConflicts(g))
	require.Equal(t, 1, g.Len())

	winner := g.Nodes()[0]
	assert.Equal(t, "v2.0.0", winner.Version)
	assert.Len(t, winner.Requesters, 2)
}

func TestConflictConcreteBeatsUnconstrained(t *testing.T) {
	g := NewGraph()
	latest := remoteNode("community", "agents/a.md", "aaa", "v2.0.0",
		errdefs.Requester{Name: "one", Constraint: ""})
	pinned := remoteNode("community", "agents/a.md", "bbb", "v1.2.0",
		errdefs.Requester{Name: "two", Constraint: "v1.2.0"})
	g.Add(latest)
	g.Add(pinned)

	require.NoError(t, ResolveConflicts(g))
	require.Equal(t, 1, g.Len())
	assert.Equal(t, "v1.2.0", g.Nodes()[0].Version)
}

func TestConflictBranchVsTagFatal(t *testing.T) {
	g := NewGraph()
	g.Add(remoteNode("community", "agents/a.md", "aaa", "main",
		errdefs.Requester{Name: "one", Constraint: "main"}))
	g.Add(remoteNode("community", "agents/a.md", "bbb", "v1.0.0",
		errdefs.Requester{Name: "two", Constraint: "v1.0.0"}))

	err := ResolveConflicts(g)
	require.Error(t, err)
	var conflict *errdefs.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "community", conflict.Source)
	assert.Equal(t, "agents/a.md", conflict.Path)
	assert.Len(t, conflict.Requesters, 2)
	assert.True(t, strings.Contains(err.Error(), "one wants main"))
}

func TestConflictBranchWinsOverUnconstrained(t *testing.T) {
	g := NewGraph()
	g.Add(remoteNode("community", "agents/a.md", "aaa", "develop",
		errdefs.Requester{Name: "one", Constraint: "develop"}))
	g.Add(remoteNode("community", "agents/a.md", "bbb", "v1.0.0",
		errdefs.Requester{Name: "two", Constraint: ""}))

	require.NoError(t, ResolveConflicts(g))
	require.Equal(t, 1, g.Len())
	assert.Equal(t, "develop", g.Nodes()[0].Version)
}

func TestConflictTwoBranchesFatal(t *testing.T) {
	g := NewGraph()
	g.Add(remoteNode("community", "agents/a.md", "aaa", "main",
		errdefs.Requester{Name: "one", Constraint: "main"}))
	g.Add(remoteNode("community", "agents/a.md", "bbb", "develop",
		errdefs.Requester{Name: "two", Constraint: "develop"}))

	err := ResolveConflicts(g)
	var conflict *errdefs.ConflictError
	require.True(t, errors.As(err, &conflict))
}

func TestConflictWinnerMustSatisfyRanges(t *testing.T) {
	g := NewGraph()
	g.Add(remoteNode("community", "agents/a.md", "aaa", "v2.0.0",
		errdefs.Requester{Name: "one", Constraint: "v2.0.0"}))
	g.Add(remoteNode("community", "agents/a.md", "bbb", "v1.5.0",
		errdefs.Requester{Name: "two", Constraint: "^1.0.0"}))

	err := ResolveConflicts(g)
	var conflict *errdefs.ConflictError
	require.True(t, errors.As(err, &conflict))
}

func TestConflictConcreteWithinRange(t *testing.T) {
	g := NewGraph()
	g.Add(remoteNode("community", "agents/a.md", "aaa", "v1.2.0",
		errdefs.Requester{Name: "one", Constraint: "v1.2.0"}))
	g.Add(remoteNode("community", "agents/a.md", "bbb", "v1.5.0",
		errdefs.Requester{Name: "two", Constraint: "^1.0.0"}))

	require.NoError(t, ResolveConflicts(g))
	require.Equal(t, 1, g.Len())
	assert.Equal(t, "v1.2.0", g.Nodes()[0].Version)
}

func TestConflictDistinctCommitPinsFatal(t *testing.T) {
	shaA := strings.Repeat("a", 40)
	shaB := strings.Repeat("b", 40)
	g := NewGraph()
	g.Add(remoteNode("community", "agents/a.md", shaA, shaA[:12],
		errdefs.Requester{Name: "one", Constraint: shaA}))
	g.Add(remoteNode("community", "agents/a.md", shaB, shaB[:12],
		errdefs.Requester{Name: "two", Constraint: shaB}))

	err := ResolveConflicts(g)
	var conflict *errdefs.ConflictError
	require.True(t, errors.As(err, &conflict))
}

func TestConflictMergeRepointsEdges(t *testing.T) {
	g := NewGraph()
	loser := remoteNode("community", "snippets/s.md", "aaa", "v1.0.0",
		errdefs.Requester{Name: "p", Constraint: "v1.0.0"})
	winner := remoteNode("community", "snippets/s.md", "bbb", "v2.0.0",
		errdefs.Requester{Name: "q", Constraint: "v2.0.0"})
	parent := remoteNode("community", "agents/p.md", "ccc", "v1.0.0",
		errdefs.Requester{Name: "manifest", Constraint: "v1.0.0"})
	parent.Edges = []Edge{{To: loser.ID, Embed: true, Binding: "s"}}
	g.Add(loser)
	g.Add(winner)
	g.Add(parent)

	require.NoError(t, ResolveConflicts(g))
	require.Equal(t, 2, g.Len())
	require.Len(t, parent.Edges, 1)
	assert.Equal(t, winner.ID, parent.Edges[0].To)
	assert.Nil(t, g.Get(loser.ID))
}

func TestConflictMergePrunesLoserChildren(t *testing.T) {
	g := NewGraph()
	loser := remoteNode("community", "agents/p.md", "aaa", "v1.0.0",
		errdefs.Requester{Name: "manifest", Constraint: "v1.0.0"})
	winner := remoteNode("community", "agents/p.md", "bbb", "v2.0.0",
		errdefs.Requester{Name: "manifest", Constraint: "v2.0.0"})
	oldChild := remoteNode("community", "snippets/old.md", "aaa", "v1.0.0",
		errdefs.Requester{Name: "p", Constraint: "v1.0.0"})
	newChild := remoteNode("community", "snippets/new.md", "bbb", "v2.0.0",
		errdefs.Requester{Name: "p", Constraint: "v2.0.0"})
	oldChild.Seed = false
	newChild.Seed = false
	loser.Edges = []Edge{{To: oldChild.ID, Embed: true, Binding: "s"}}
	winner.Edges = []Edge{{To: newChild.ID, Embed: true, Binding: "s"}}
	g.Add(loser)
	g.Add(winner)
	g.Add(oldChild)
	g.Add(newChild)

	require.NoError(t, ResolveConflicts(g))
	require.Equal(t, 2, g.Len())
	assert.Nil(t, g.Get(loser.ID))
	assert.Nil(t, g.Get(oldChild.ID), "the losing version's exclusive child must not survive the merge")
	assert.NotNil(t, g.Get(winner.ID))
	assert.NotNil(t, g.Get(newChild.ID))
}

func TestConflictSkipsLocalAndFailed(t *testing.T) {
	g := NewGraph()
	g.Add(&Node{ID: LocalID("a.md"), Local: "a.md", Seed: true, State: Resolved})
	g.Add(remoteNode("community", "a.md", "unresolved", "",
		errdefs.Requester{Name: "manifest", Constraint: "v9.9.9"}))
	g.Nodes()[1].State = Failed

	require.NoError(t, ResolveConflicts(g))
	assert.Equal(t, 2, g.Len())
}
