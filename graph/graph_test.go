package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newPlanGraph(t *testing.T) (*Graph, string) {
	t.Helper()
	g := New()
	root, err := g.AddRoot(TaskComposition, "write a report on X", 0, KindPlan)
	require.NoError(t, err)
	return g, root
}

func TestBuildInnerGraphLinearChain(t *testing.T) {
	g, root := newPlanGraph(t)

	children, err := g.BuildInnerGraph(root, []ChildDescriptor{
		{Task: TaskComposition, Goal: "intro"},
		{Task: TaskComposition, Goal: "body", DependsOn: []int{0}},
		{Task: TaskComposition, Goal: "conclusion", DependsOn: []int{1}},
	})
	require.NoError(t, err)
	require.Len(t, children, 3)

	n0, _ := g.Get(children[0])
	n1, _ := g.Get(children[1])
	n2, _ := g.Get(children[2])

	require.Equal(t, StatusReady, n0.Status, "no predecessors: immediately ready")
	require.Equal(t, StatusNotReady, n1.Status)
	require.Equal(t, StatusNotReady, n2.Status)
	require.Equal(t, "1.1", n0.NID)
	require.Equal(t, "1.2", n1.NID)
	require.Equal(t, "1.3", n2.NID)

	root_, _ := g.Get(root)
	require.Equal(t, []string{children[0], children[1], children[2]}, root_.InnerTopoOrder)

	require.NoError(t, g.SetResult(children[0], Result{Text: "intro text"}, StatusFinished))
	changed, err := g.AdvanceReadiness()
	require.NoError(t, err)
	require.Contains(t, changed, children[1])

	n1, _ = g.Get(children[1])
	require.Equal(t, StatusReady, n1.Status)
}

func TestBuildInnerGraphRejectsCyclicDependency(t *testing.T) {
	g, root := newPlanGraph(t)
	_, err := g.BuildInnerGraph(root, []ChildDescriptor{
		{Task: TaskComposition, Goal: "a", DependsOn: []int{1}},
		{Task: TaskComposition, Goal: "b", DependsOn: []int{0}},
	})
	require.Error(t, err, "backward/self dependency must fail forward-only validation")
}

func TestBuildInnerGraphRejectsUnknownTaskType(t *testing.T) {
	g, root := newPlanGraph(t)
	_, err := g.BuildInnerGraph(root, []ChildDescriptor{
		{Task: "BOGUS", Goal: "a"},
	})
	require.Error(t, err)
}

func TestResultImmutableOnceFinished(t *testing.T) {
	g, root := newPlanGraph(t)
	children, err := g.BuildInnerGraph(root, []ChildDescriptor{{Task: TaskReasoning, Goal: "think"}})
	require.NoError(t, err)
	leaf := children[0]

	require.NoError(t, g.SetResult(leaf, Result{Conclusion: "42"}, StatusFinished))
	err = g.SetResult(leaf, Result{Conclusion: "43"}, StatusFinished)
	require.Error(t, err, "I6: result must be write-once")

	n, _ := g.Get(leaf)
	require.Equal(t, "42", n.Result.Conclusion)
}

func TestAggregationReadinessRequiresAllChildrenFinished(t *testing.T) {
	g, root := newPlanGraph(t)
	children, err := g.BuildInnerGraph(root, []ChildDescriptor{
		{Task: TaskComposition, Goal: "a"},
		{Task: TaskComposition, Goal: "b"},
	})
	require.NoError(t, err)

	_, err = g.SetStatus(root, StatusPlanDone)
	require.NoError(t, err)

	require.NoError(t, g.SetResult(children[0], Result{Text: "A"}, StatusFinished))
	changed, err := g.AdvanceReadiness()
	require.NoError(t, err)
	require.NotContains(t, changed, root, "one child finished is not enough")

	require.NoError(t, g.SetResult(children[1], Result{Text: "B"}, StatusFinished))
	changed, err = g.AdvanceReadiness()
	require.NoError(t, err)
	require.Contains(t, changed, root)

	rootNode, _ := g.Get(root)
	require.Equal(t, StatusNeedUpdate, rootNode.Status)
}

func TestRunningArticleConcatenatesInNIDOrder(t *testing.T) {
	g, root := newPlanGraph(t)
	children, err := g.BuildInnerGraph(root, []ChildDescriptor{
		{Task: TaskComposition, Goal: "a"},
		{Task: TaskComposition, Goal: "b"},
	})
	require.NoError(t, err)
	require.NoError(t, g.SetResult(children[1], Result{Text: "second"}, StatusFinished))
	require.NoError(t, g.SetResult(children[0], Result{Text: "first"}, StatusFinished))

	require.Equal(t, "first\n\nsecond", g.RunningArticle())
}

func TestCandidatesOrderedByNID(t *testing.T) {
	g, root := newPlanGraph(t)
	children, err := g.BuildInnerGraph(root, []ChildDescriptor{
		{Task: TaskComposition, Goal: "a"},
		{Task: TaskComposition, Goal: "b"},
		{Task: TaskComposition, Goal: "c"},
	})
	require.NoError(t, err)

	cands := g.Candidates(StatusReady)
	require.Equal(t, children, cands, "all three are independent and should sort by NID")
}
