package memory

import (
	"testing"

	"github.com/kestrelflow/taskforge/graph"
	"github.com/stretchr/testify/require"
)

func TestCollectReflectsGraphState(t *testing.T) {
	g := graph.New()
	root, err := g.AddRoot(graph.TaskComposition, "write a report", 0, graph.KindPlan)
	require.NoError(t, err)
	children, err := g.BuildInnerGraph(root, []graph.ChildDescriptor{
		{Task: graph.TaskComposition, Goal: "intro"},
		{Task: graph.TaskComposition, Goal: "body", DependsOn: []int{0}},
	})
	require.NoError(t, err)

	c := NewCollector(g, map[string]string{"mode": "story"})

	ctx, err := c.Collect(children[1])
	require.NoError(t, err)
	require.Empty(t, ctx.PredecessorResults[0].Text, "intro has no result yet")

	require.NoError(t, g.SetResult(children[0], graph.Result{Text: "intro text"}, graph.StatusFinished))

	ctx2, err := c.Collect(children[1])
	require.NoError(t, err)
	require.Equal(t, "intro text", ctx2.PredecessorResults[0].Text, "cache must invalidate when a contributing node's result changes")
}

func TestCollectIsCachedWhenInputsUnchanged(t *testing.T) {
	g := graph.New()
	root, err := g.AddRoot(graph.TaskComposition, "goal", 0, graph.KindPlan)
	require.NoError(t, err)
	children, err := g.BuildInnerGraph(root, []graph.ChildDescriptor{{Task: graph.TaskReasoning, Goal: "think"}})
	require.NoError(t, err)

	c := NewCollector(g, nil)
	first, err := c.Collect(children[0])
	require.NoError(t, err)
	second, err := c.Collect(children[0])
	require.NoError(t, err)
	require.Equal(t, first, second)
}
